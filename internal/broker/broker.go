// Package broker publishes weather messages to a message broker.
package broker

import (
	"context"
	"errors"

	"github.com/kjstillabower/vienna-weather-pipeline/internal/models"
)

var (
	// ErrNotConnected is returned by Publish before a successful Connect or after Close.
	ErrNotConnected = errors.New("broker not connected")
	// ErrConnectFailed wraps the last dial error once every connect attempt has failed.
	ErrConnectFailed = errors.New("broker connect failed")
)

// Publisher delivers messages to a broker. Implementations are safe for concurrent use.
type Publisher interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, msg models.Message) error
	Close() error
	Connected() bool
	Backend() string
}

// Noop is the "none" backend: nothing is published and the monitor keeps local backups only.
type Noop struct{}

func (Noop) Connect(context.Context) error                 { return nil }
func (Noop) Publish(context.Context, models.Message) error { return ErrNotConnected }
func (Noop) Close() error                                  { return nil }
func (Noop) Connected() bool                               { return false }
func (Noop) Backend() string                               { return "none" }
