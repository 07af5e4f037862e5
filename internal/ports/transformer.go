package ports

import "github.com/sargonas/meshcord/internal/domain"

// Transformer runs between classification and formatting. Embedders use it
// to redact or decorate messages. Returning (nil, nil) drops the message
// without recording it as seen.
type Transformer interface {
	Transform(*domain.ClassifiedMessage) (*domain.ClassifiedMessage, error)
}
