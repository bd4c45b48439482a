package contracts

import "context"

type AsyncWorker interface {
	// Run starts the consumer loop and returns once the subscription is live.
	Run(ctx context.Context) error
	// ProcessMessage delivers one stream record, then acks and deletes it.
	ProcessMessage(ctx context.Context, msgID string, rawData []byte) error
}
