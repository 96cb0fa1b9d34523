// Package httpconn wires a flowmesh source to an inbound fiber HTTP
// endpoint and a flowmesh sink to an outbound HTTP POST client,
// grounded on the teacher's components/http Initium/Terminus pair.
// (flowmesh's own admin surface — /health, /graph.dot — is built
// directly on fiber in the top-level engine package rather than here;
// this package is for job-level HTTP sources/sinks only.)
package httpconn

import (
	"bytes"
	"context"
	"net/http"

	fiber "github.com/gofiber/fiber/v2"
	"github.com/spf13/viper"

	"github.com/flowmesh/flowmesh/connectors"
)

type SourceConfig struct {
	Name string
	Port string
	Path string
}

func SourceConfigFromViper(v *viper.Viper) SourceConfig {
	return SourceConfig{Name: v.GetString("name"), Port: v.GetString("port"), Path: v.GetString("path")}
}

// Source constructs a connectors.Source[T] fed by POST requests to an
// embedded fiber server: each request body is decoded with decode and
// appended to the current poll's batch. The returned stop func shuts
// the server down; callers should defer it.
func Source[T any](cfg SourceConfig, decode func(body []byte) ([]T, error)) (src *connectors.Source[T], stop func() error) {
	app := fiber.New(fiber.Config{DisableKeepalive: true, ServerHeader: cfg.Name})

	incoming := make(chan []T, 64)
	app.Post(cfg.Path, func(c *fiber.Ctx) error {
		batch, err := decode(c.Body())
		if err != nil {
			return c.SendStatus(http.StatusBadRequest)
		}
		incoming <- batch
		return c.SendStatus(http.StatusOK)
	})

	go func() { _ = app.Listen(cfg.Port) }()

	src = connectors.NewSource[T]("http:"+cfg.Path, func(ctx context.Context) ([]T, error) {
		select {
		case batch := <-incoming:
			return batch, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	return src, app.Shutdown
}

type SinkConfig struct {
	URL string
}

func SinkConfigFromViper(v *viper.Viper) SinkConfig { return SinkConfig{URL: v.GetString("host")} }

// Sink constructs a connectors.Sink[T] POSTing each flushed batch as a
// single JSON-ish (encode-defined) request body.
func Sink[T any](client *http.Client, cfg SinkConfig, encode func([]T) ([]byte, error)) *connectors.Sink[T] {
	return connectors.NewSink[T](func(ctx context.Context, batch []T) error {
		body, err := encode(batch)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		return resp.Body.Close()
	})
}
