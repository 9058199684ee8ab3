package datasync

import (
	"context"

	"github.com/roach88/cmdsync/internal/model"
)

// DefaultHandlerName is the name of the built-in projection handler.
const DefaultHandlerName = "DataSyncDdsHandler"

// DataPublisher writes the data projection.
type DataPublisher interface {
	Publish(ctx context.Context, cmd *model.Command) (*model.Data, error)
}

// DefaultHandler projects commands into the module's data table.
type DefaultHandler struct {
	data DataPublisher
}

func NewDefaultHandler(data DataPublisher) *DefaultHandler {
	return &DefaultHandler{data: data}
}

func (h *DefaultHandler) Name() string { return DefaultHandlerName }
func (h *DefaultHandler) Type() string { return TypeDynamoDB }

func (h *DefaultHandler) Up(ctx context.Context, cmd *model.Command) (any, error) {
	return h.data.Publish(ctx, cmd)
}

// Down is a no-op; the projection is rewritten by the next Up.
func (h *DefaultHandler) Down(context.Context, *model.Command) (any, error) {
	return nil, nil
}
