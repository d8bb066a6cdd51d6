package client

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/coachkeeper/internal/client/backend"
	"github.com/dmitrijs2005/coachkeeper/internal/client/identity"
	"github.com/dmitrijs2005/coachkeeper/internal/codec"
	"github.com/dmitrijs2005/coachkeeper/internal/common"
	"github.com/dmitrijs2005/coachkeeper/internal/models"
	"github.com/dmitrijs2005/coachkeeper/internal/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

const defaultTimeout = 10 * time.Second

// GRPCClient is the remote store adapter. It speaks RecordService and
// translates between entities and wire rows.
type GRPCClient struct {
	endpointURL string
	conn        *grpc.ClientConn
	client      rpc.RecordServiceClient
	identity    identity.Provider
	timeout     time.Duration
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Delete(common.AccessTokenHeaderName)
	md.Set(common.AccessTokenHeaderName, token)

	return metadata.NewOutgoingContext(ctx, md)
}

func (s *GRPCClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if token := s.identity.AccessToken(); token != "" {
		ctx = withAccessToken(ctx, token)
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}

// NewGRPCClient connects lazily to endpointURL. Extra dial options are
// appended to the defaults (tests pass a bufconn dialer).
func NewGRPCClient(endpointURL string, id identity.Provider, timeout time.Duration, opts ...grpc.DialOption) (*GRPCClient, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &GRPCClient{endpointURL: endpointURL, identity: id, timeout: timeout}
	if err := c.InitGRPCClient(opts...); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *GRPCClient) InitGRPCClient(opts ...grpc.DialOption) error {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(s.accessTokenInterceptor),
	}, opts...)

	conn, err := grpc.NewClient(s.endpointURL, opts...)
	if err != nil {
		return err
	}
	s.conn = conn
	s.client = rpc.NewRecordServiceClient(conn)
	return nil
}

func (s *GRPCClient) Close() error {
	return s.conn.Close()
}

func (s *GRPCClient) Name() backend.Name { return backend.Remote }

// call runs fn under the per-call timeout. Without an owner identity it
// fails with ErrAuth before touching the network.
func (s *GRPCClient) call(ctx context.Context, method string, fields map[string]any) (*structpb.Struct, error) {
	if s.identity.CurrentOwnerScope() == "" && method != rpc.MethodPing {
		return nil, fmt.Errorf("%s: no signed-in owner: %w", method, common.ErrAuth)
	}
	req, err := rpc.Message(fields)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", method, common.ErrCodec, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var resp *structpb.Struct
	switch method {
	case rpc.MethodGet:
		resp, err = s.client.Get(ctx, req)
	case rpc.MethodList:
		resp, err = s.client.List(ctx, req)
	case rpc.MethodListSince:
		resp, err = s.client.ListSince(ctx, req)
	case rpc.MethodPut:
		resp, err = s.client.Put(ctx, req)
	case rpc.MethodDelete:
		resp, err = s.client.Delete(ctx, req)
	case rpc.MethodPing:
		resp, err = s.client.Ping(ctx, req)
	default:
		return nil, fmt.Errorf("unknown method %s", method)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, s.mapError(ctx, err))
	}
	return resp, nil
}

func (s *GRPCClient) Get(ctx context.Context, kind models.Kind, id string) (models.Entity, error) {
	resp, err := s.call(ctx, rpc.MethodGet, map[string]any{rpc.FieldKind: string(kind), rpc.FieldID: id})
	if err != nil {
		return nil, err
	}
	return recordOf(kind, resp)
}

func (s *GRPCClient) List(ctx context.Context, kind models.Kind) ([]models.Entity, error) {
	resp, err := s.call(ctx, rpc.MethodList, map[string]any{rpc.FieldKind: string(kind)})
	if err != nil {
		return nil, err
	}
	return recordsOf(kind, resp)
}

func (s *GRPCClient) ListSince(ctx context.Context, kind models.Kind, since time.Time) ([]models.Entity, time.Time, error) {
	resp, err := s.call(ctx, rpc.MethodListSince, map[string]any{rpc.FieldKind: string(kind), rpc.FieldSince: since})
	if err != nil {
		return nil, time.Time{}, err
	}
	list, err := recordsOf(kind, resp)
	if err != nil {
		return nil, time.Time{}, err
	}
	watermark, err := rpc.Time(resp, rpc.FieldWatermark)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %v", common.ErrCodec, err)
	}
	if watermark.IsZero() {
		watermark = since
	}
	return list, watermark, nil
}

// Put sends a create for a record still under a temporary id (the server
// deduplicates on client_ref) and a versioned update otherwise.
func (s *GRPCClient) Put(ctx context.Context, e models.Entity) (models.Entity, error) {
	row, err := codec.ToRow(e)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{rpc.FieldKind: string(e.Kind()), rpc.FieldRecord: row}
	if id := e.Head().ID; models.IsTempID(id) {
		fields[rpc.FieldClientRef] = id
		delete(row, codec.ColID)
	}
	resp, err := s.call(ctx, rpc.MethodPut, fields)
	if err != nil {
		return nil, err
	}
	return recordOf(e.Kind(), resp)
}

func (s *GRPCClient) Delete(ctx context.Context, kind models.Kind, id string) error {
	_, err := s.call(ctx, rpc.MethodDelete, map[string]any{rpc.FieldKind: string(kind), rpc.FieldID: id})
	return err
}

func (s *GRPCClient) Ping(ctx context.Context) error {
	resp, err := s.call(ctx, rpc.MethodPing, map[string]any{})
	if err != nil {
		return err
	}
	if rpc.String(resp, rpc.FieldStatus) != rpc.StatusOK {
		return fmt.Errorf("ping: %w", common.ErrUnavailable)
	}
	return nil
}

func recordOf(kind models.Kind, resp *structpb.Struct) (models.Entity, error) {
	row, ok := rpc.Row(resp, rpc.FieldRecord)
	if !ok {
		return nil, fmt.Errorf("%w: response carries no record", common.ErrCodec)
	}
	return codec.FromRow(kind, row)
}

func recordsOf(kind models.Kind, resp *structpb.Struct) ([]models.Entity, error) {
	rows, err := rpc.Rows(resp, rpc.FieldRecords)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrCodec, err)
	}
	out := make([]models.Entity, 0, len(rows))
	for _, row := range rows {
		e, err := codec.FromRow(kind, row)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

var _ backend.RemoteAdapter = (*GRPCClient)(nil)
