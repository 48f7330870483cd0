package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/catalogstream/errors"
	"github.com/c360/catalogstream/metric"
)

// NATSConfig configures the connection behind a KV feed
type NATSConfig struct {
	// URL is the NATS server address
	URL string `json:"url"`

	// Bucket is the KV bucket carrying catalog changes, keyed by item ID
	Bucket string `json:"bucket"`

	// CreateBucket provisions the bucket when it does not exist.
	// Production consumers normally expect it to be there already.
	CreateBucket bool `json:"create_bucket"`

	// Credentials
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`

	// ClientName identifies the connection on the server
	ClientName string `json:"client_name,omitempty"`

	// Timeout bounds the initial connect
	Timeout time.Duration `json:"timeout"`

	// ReconnectWait paces the client's own reconnect loop
	ReconnectWait time.Duration `json:"reconnect_wait"`

	// Feed carries the watcher-level settings
	Feed KVFeedConfig `json:"feed"`
}

func (c *NATSConfig) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.ClientName == "" {
		c.ClientName = "catalogstream"
	}
}

// NATSFeed is a KVFeed that owns its NATS connection. Closing the feed
// closes the connection.
type NATSFeed struct {
	*KVFeed
	conn *nats.Conn
}

// ConnectKVFeed dials NATS, resolves the change bucket, and wraps it in a
// KV feed
func ConnectKVFeed(ctx context.Context, cfg NATSConfig, registry *metric.Registry,
	logger *slog.Logger) (*NATSFeed, error) {
	if cfg.URL == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "NATSFeed", "ConnectKVFeed",
			"URL required")
	}
	if cfg.Bucket == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "NATSFeed", "ConnectKVFeed",
			"bucket required")
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	opts := []nats.Option{
		nats.Name(cfg.ClientName),
		nats.Timeout(cfg.Timeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			logger.Info("NATS reconnected", "url", conn.ConnectedUrl())
		}),
	}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, errors.WrapTransient(err, "NATSFeed", "ConnectKVFeed", "NATS connect")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, errors.WrapFatal(err, "NATSFeed", "ConnectKVFeed", "JetStream context")
	}

	bucketCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	var bucket jetstream.KeyValue
	if cfg.CreateBucket {
		bucket, err = js.CreateOrUpdateKeyValue(bucketCtx, jetstream.KeyValueConfig{
			Bucket: cfg.Bucket,
		})
	} else {
		bucket, err = js.KeyValue(bucketCtx, cfg.Bucket)
	}
	if err != nil {
		conn.Close()
		return nil, errors.WrapTransient(err, "NATSFeed", "ConnectKVFeed",
			"KV bucket "+cfg.Bucket)
	}

	kvFeed, err := NewKVFeed(bucket, cfg.Bucket, cfg.Feed, registry, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &NATSFeed{KVFeed: kvFeed, conn: conn}, nil
}

// Close stops the watcher and closes the owned connection
func (f *NATSFeed) Close() error {
	err := f.KVFeed.Close()
	f.conn.Close()
	return err
}
