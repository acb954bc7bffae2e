package ledger

// Remote is a Ledger backed by the REST API and the notification stream.
type Remote struct {
	*Client
	*Stream
}

var _ Ledger = (*Remote)(nil)

// NewRemote combines a REST client and a stream into a Ledger.
func NewRemote(client *Client, stream *Stream) *Remote {
	return &Remote{Client: client, Stream: stream}
}
