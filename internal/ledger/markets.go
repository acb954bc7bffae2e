package ledger

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// ListBranches fetches all branch ids.
func (c *Client) ListBranches(ctx context.Context) ([]string, error) {
	var resp BranchesResponse
	if err := c.get(ctx, "/branches", nil, &resp); err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	return resp.Branches, nil
}

// ListMarketIDs fetches every market id in a branch by paginating through results.
func (c *Client) ListMarketIDs(ctx context.Context, branch string) ([]string, error) {
	var ids []string
	cursor := ""

	for {
		query := url.Values{}
		query.Set("limit", strconv.Itoa(DefaultPageSize))
		if cursor != "" {
			query.Set("cursor", cursor)
		}

		var resp MarketIDsResponse
		path := "/branches/" + url.PathEscape(branch) + "/markets"
		if err := c.get(ctx, path, query, &resp); err != nil {
			return nil, fmt.Errorf("list markets in branch %s: %w", branch, err)
		}

		ids = append(ids, resp.MarketIDs...)

		if resp.Cursor == "" {
			break
		}
		cursor = resp.Cursor
	}

	return ids, nil
}

// GetMarket fetches a single market by id.
func (c *Client) GetMarket(ctx context.Context, id string) (*RawMarket, error) {
	var resp SingleMarketResponse
	if err := c.get(ctx, "/markets/"+url.PathEscape(id), nil, &resp); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("get market %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return &resp.Market, nil
}

// GetMarketEvents fetches the events attached to a market.
func (c *Client) GetMarketEvents(ctx context.Context, id string) ([]RawEvent, error) {
	var resp EventsResponse
	if err := c.get(ctx, "/markets/"+url.PathEscape(id)+"/events", nil, &resp); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("get events %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get events %s: %w", id, err)
	}
	return resp.Events, nil
}

// GetMarketTrades fetches the full trade history of a market.
func (c *Client) GetMarketTrades(ctx context.Context, id string) ([]RawTrade, error) {
	var trades []RawTrade
	cursor := ""

	for {
		query := url.Values{}
		query.Set("limit", strconv.Itoa(DefaultPageSize))
		if cursor != "" {
			query.Set("cursor", cursor)
		}

		var resp TradesResponse
		if err := c.get(ctx, "/markets/"+url.PathEscape(id)+"/trades", query, &resp); err != nil {
			if isNotFound(err) {
				return nil, fmt.Errorf("get trades %s: %w", id, ErrNotFound)
			}
			return nil, fmt.Errorf("get trades %s: %w", id, err)
		}

		trades = append(trades, resp.Trades...)

		if resp.Cursor == "" {
			break
		}
		cursor = resp.Cursor
	}

	return trades, nil
}
