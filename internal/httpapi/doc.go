// Package httpapi serves the replica over HTTP.
//
// Routes:
//
//	GET /health                                  store ping and session status
//	GET /markets/{id}                            one market
//	GET /markets?ids=a,b                         several markets, keyed by id
//	GET /branches/{id}/markets                   markets of a branch
//	GET /markets/{id}/price-history?from=&to=    trades by outcome
//	GET /accounts/{account}/trades?from=&to=     trades by market and outcome
//	GET <metrics path>                           Prometheus metrics
package httpapi
