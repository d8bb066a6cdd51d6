package grpc

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/coachkeeper/internal/codec"
	"github.com/dmitrijs2005/coachkeeper/internal/common"
	"github.com/dmitrijs2005/coachkeeper/internal/models"
	"github.com/dmitrijs2005/coachkeeper/internal/rpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func kindOf(in *structpb.Struct) (models.Kind, error) {
	k, err := models.ParseKind(rpc.String(in, rpc.FieldKind))
	if err != nil {
		return "", status.Error(codes.InvalidArgument, err.Error())
	}
	return k, nil
}

func (s *GRPCServer) reply(ctx context.Context, fields map[string]any) (*structpb.Struct, error) {
	out, err := rpc.Message(fields)
	if err != nil {
		return nil, s.mapError(ctx, err)
	}
	return out, nil
}

func (s *GRPCServer) rows(ctx context.Context, list []models.Entity) ([]codec.Row, error) {
	out := make([]codec.Row, 0, len(list))
	for _, e := range list {
		row, err := codec.ToRow(e)
		if err != nil {
			return nil, s.mapError(ctx, err)
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *GRPCServer) Get(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	kind, err := kindOf(in)
	if err != nil {
		return nil, err
	}

	e, err := s.records.Get(ctx, ownerFrom(ctx), kind, rpc.String(in, rpc.FieldID))
	if err != nil {
		return nil, s.mapError(ctx, err)
	}

	row, err := codec.ToRow(e)
	if err != nil {
		return nil, s.mapError(ctx, err)
	}
	return s.reply(ctx, map[string]any{rpc.FieldRecord: row})
}

func (s *GRPCServer) List(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	kind, err := kindOf(in)
	if err != nil {
		return nil, err
	}

	list, err := s.records.List(ctx, ownerFrom(ctx), kind)
	if err != nil {
		return nil, s.mapError(ctx, err)
	}

	rows, err := s.rows(ctx, list)
	if err != nil {
		return nil, err
	}
	return s.reply(ctx, map[string]any{rpc.FieldRecords: rows})
}

func (s *GRPCServer) ListSince(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	kind, err := kindOf(in)
	if err != nil {
		return nil, err
	}
	since, err := rpc.Time(in, rpc.FieldSince)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	list, watermark, err := s.records.ListSince(ctx, ownerFrom(ctx), kind, since)
	if err != nil {
		return nil, s.mapError(ctx, err)
	}

	rows, err := s.rows(ctx, list)
	if err != nil {
		return nil, err
	}
	return s.reply(ctx, map[string]any{rpc.FieldRecords: rows, rpc.FieldWatermark: watermark})
}

func (s *GRPCServer) Put(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	kind, err := kindOf(in)
	if err != nil {
		return nil, err
	}
	row, ok := rpc.Row(in, rpc.FieldRecord)
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "record is required")
	}

	// Creates arrive without an id; the client reference stands in for it
	// until the service assigns one.
	clientRef := rpc.String(in, rpc.FieldClientRef)
	if clientRef != "" {
		row[codec.ColID] = clientRef
	}

	e, err := codec.FromRow(kind, row)
	if err != nil {
		return nil, s.mapError(ctx, err)
	}
	if e.Head().Deleted {
		return nil, s.mapError(ctx, fmt.Errorf("%w: put of a deleted record", common.ErrValidation))
	}

	saved, err := s.records.Put(ctx, ownerFrom(ctx), e, clientRef)
	if err != nil {
		return nil, s.mapError(ctx, err)
	}
	s.logger.Debug(ctx, "record stored", "kind", kind, "id", saved.Head().ID, "version", saved.Head().Version)

	out, err := codec.ToRow(saved)
	if err != nil {
		return nil, s.mapError(ctx, err)
	}
	return s.reply(ctx, map[string]any{rpc.FieldRecord: out})
}

func (s *GRPCServer) Delete(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	kind, err := kindOf(in)
	if err != nil {
		return nil, err
	}

	if err := s.records.Delete(ctx, ownerFrom(ctx), kind, rpc.String(in, rpc.FieldID)); err != nil {
		return nil, s.mapError(ctx, err)
	}
	return s.reply(ctx, map[string]any{rpc.FieldStatus: rpc.StatusOK})
}

func (s *GRPCServer) Ping(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return s.reply(ctx, map[string]any{rpc.FieldStatus: rpc.StatusOK})
}
