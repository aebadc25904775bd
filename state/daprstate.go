package state

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	daprc "github.com/dapr/go-sdk/client"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const (
	defaultStateStoreName = "statestore"
	defaultDaprGRPCPort   = "50001"
	defaultMaxMessageMB   = 16

	// ttlMetadataKey is the Dapr state metadata key for per-item expiry.
	ttlMetadataKey = "ttlInSeconds"
)

// daprStateClient is the part of the Dapr client used by DaprStore.
type daprStateClient interface {
	GetState(ctx context.Context, storeName, key string, meta map[string]string) (*daprc.StateItem, error)
	SaveState(ctx context.Context, storeName, key string, data []byte, meta map[string]string, so ...daprc.StateOption) error
	SaveStateWithETag(ctx context.Context, storeName, key string, data []byte, etag string, meta map[string]string, so ...daprc.StateOption) error
	DeleteState(ctx context.Context, storeName, key string, meta map[string]string) error
	Close()
}

// DaprStore implements Store on a Dapr state store component.
type DaprStore struct {
	client         daprStateClient
	stateStoreName string
	keyPrefix      string
}

func GetEnvValue(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// NewDaprClient dials the local Dapr sidecar over gRPC with the configured
// message size limits. The returned client is shared by the state store, the
// event sink and the database binding.
func NewDaprClient(cfg DaprConfig) (daprc.Client, error) {
	maxMessageSize := cfg.MaxMessageSizeMB
	if maxMessageSize <= 0 {
		maxMessageSize = defaultMaxMessageMB
	}
	headerBuffer := 1
	maxSizeInBytes := (maxMessageSize + headerBuffer) * 1024 * 1024

	callOpts := []grpc.CallOption{
		grpc.MaxCallRecvMsgSize(maxSizeInBytes),
		grpc.MaxCallSendMsgSize(maxSizeInBytes),
	}

	daprPort := cfg.GRPCPort
	if daprPort == "" {
		daprPort = GetEnvValue("DAPR_GRPC_PORT", defaultDaprGRPCPort)
	}

	conn, err := grpc.NewClient(
		net.JoinHostPort("127.0.0.1", daprPort),
		grpc.WithDefaultCallOptions(callOpts...),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	log.Debug().Str("port", daprPort).Int("max_message_mb", maxMessageSize).Msg("Connected to Dapr sidecar")
	return daprc.NewClientWithConnection(conn), nil
}

// NewDaprStore dials the sidecar and returns a store on the configured component.
func NewDaprStore(config Config) (*DaprStore, error) {
	client, err := NewDaprClient(*config.DaprConfig)
	if err != nil {
		return nil, err
	}
	return NewDaprStoreWithClient(client, config.DaprConfig.StateStoreName, config.KeyPrefix), nil
}

// NewDaprStoreWithClient wraps an existing Dapr client.
func NewDaprStoreWithClient(client daprStateClient, stateStoreName, keyPrefix string) *DaprStore {
	if stateStoreName == "" {
		stateStoreName = defaultStateStoreName
	}
	return &DaprStore{
		client:         client,
		stateStoreName: stateStoreName,
		keyPrefix:      keyPrefix,
	}
}

func (d *DaprStore) key(k string) string {
	return d.keyPrefix + k
}

func (d *DaprStore) Get(ctx context.Context, key string) (Item, error) {
	item, err := d.client.GetState(ctx, d.stateStoreName, d.key(key), nil)
	if err != nil {
		return Item{}, fmt.Errorf("failed to get %s from %s: %w", key, d.stateStoreName, err)
	}
	if item == nil || len(item.Value) == 0 {
		return Item{}, ErrNotFound
	}
	return Item{Value: item.Value, ETag: item.Etag}, nil
}

func (d *DaprStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := d.client.SaveState(ctx, d.stateStoreName, d.key(key), value, ttlMetadata(ttl)); err != nil {
		return fmt.Errorf("failed to save %s to %s: %w", key, d.stateStoreName, err)
	}
	return nil
}

func (d *DaprStore) SetIfMatch(ctx context.Context, key string, value []byte, etag string) error {
	err := d.client.SaveStateWithETag(ctx, d.stateStoreName, d.key(key), value, etag, nil,
		daprc.WithConcurrency(daprc.StateConcurrencyFirstWrite))
	if err != nil {
		if isETagMismatch(err) {
			return fmt.Errorf("%s: %w", key, ErrConflict)
		}
		return fmt.Errorf("failed to save %s to %s: %w", key, d.stateStoreName, err)
	}
	return nil
}

func (d *DaprStore) Delete(ctx context.Context, key string) error {
	if err := d.client.DeleteState(ctx, d.stateStoreName, d.key(key), nil); err != nil {
		return fmt.Errorf("failed to delete %s from %s: %w", key, d.stateStoreName, err)
	}
	return nil
}

func (d *DaprStore) Close() error {
	if d.client != nil {
		d.client.Close()
	}
	return nil
}

func ttlMetadata(ttl time.Duration) map[string]string {
	if ttl <= 0 {
		return nil
	}
	secs := int(ttl / time.Second)
	if secs < 1 {
		secs = 1
	}
	return map[string]string{ttlMetadataKey: strconv.Itoa(secs)}
}

func isETagMismatch(err error) bool {
	if errors.Is(err, ErrConflict) {
		return true
	}
	switch status.Code(err) {
	case codes.Aborted, codes.FailedPrecondition:
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "etag")
}
