package recorder

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/fluxorio/callcenter/pkg/core"
	"github.com/fluxorio/callcenter/pkg/task"
)

// NATSConfig configures the NATS recorder
type NATSConfig struct {
	URL string
	// Prefix is the subject prefix; records go to <Prefix>.cdr
	Prefix string
	Name   string
}

// NATS publishes every record as JSON. Publishing is buffered by the client
// and never waits for subscribers.
type NATS struct {
	nc      *nats.Conn
	subject string
	owned   bool
}

// DialNATS connects to the server and owns the connection
func DialNATS(cfg NATSConfig) (*NATS, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, func(o *nats.Options) error {
		o.Name = cfg.Name
		if o.Name == "" {
			o.Name = "callcenter-cdr"
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	r := NewNATS(nc, cfg.Prefix)
	r.owned = true
	return r, nil
}

// NewNATS publishes on an existing connection
func NewNATS(nc *nats.Conn, prefix string) *NATS {
	if prefix == "" {
		prefix = "callcenter"
	}
	return &NATS{nc: nc, subject: prefix + ".cdr"}
}

// Subject returns the subject records are published on
func (n *NATS) Subject() string {
	return n.subject
}

func (n *NATS) MakeRecord(ctx context.Context, id task.CallID, res task.Result) error {
	data, err := json.Marshal(NewCDR(id, res))
	if err != nil {
		return err
	}

	msg := &nats.Msg{
		Subject: n.subject,
		Data:    data,
		Header:  nats.Header{},
	}
	if rid := core.GetRequestID(ctx); rid != "" {
		msg.Header.Set(core.RequestIDHeader, rid)
	}
	return n.nc.PublishMsg(msg)
}

// Close flushes pending publishes and closes an owned connection
func (n *NATS) Close() error {
	if !n.owned {
		return n.nc.Flush()
	}
	return n.nc.Drain()
}
