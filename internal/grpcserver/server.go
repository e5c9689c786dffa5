// Package grpcserver implements the RecommenderService gRPC server.
//
// It delegates all business logic to service.Service and handles only the
// gRPC transport concerns: metadata auth, auditing, error mapping, and conversion
// between domain types and messages. Messages are google.protobuf.Struct
// documents carrying the same JSON shapes as the HTTP API, so any client that
// speaks the well-known types can call it without generated stubs.
package grpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"jobmate/recommender-service/internal/auth"
	"jobmate/recommender-service/internal/model"
	"jobmate/recommender-service/internal/normalize"
	"jobmate/recommender-service/internal/recommend"
	"jobmate/recommender-service/internal/service"
)

// Server implements RecommenderServer.
type Server struct {
	svc *service.Service
	log *zap.Logger
}

// NewServer constructs a gRPC Server backed by the given service.Service.
func NewServer(svc *service.Service, logger *zap.Logger) *Server {
	return &Server{svc: svc, log: logger.Named("grpc")}
}

// ─── RPC implementations ──────────────────────────────────────────────────────

func (s *Server) ListSources(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in struct {
		EnabledOnly bool `json:"enabled_only"`
	}
	if err := fromStruct(req, &in); err != nil {
		return nil, err
	}
	sources, err := s.svc.ListSources(ctx, in.EnabledOnly)
	return s.reply(sources, err)
}

func (s *Server) RegisterSource(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	src, err := sourceFromStruct(req)
	if err != nil {
		return nil, err
	}
	src, err = s.svc.RegisterSource(ctx, src)
	return s.reply(src, err)
}

// UpdateSource replaces name, type, config and enabled of an existing source.
func (s *Server) UpdateSource(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	src, err := sourceFromStruct(req)
	if err != nil {
		return nil, err
	}
	src, err = s.svc.UpdateSource(ctx, src)
	return s.reply(src, err)
}

func (s *Server) GetSource(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in struct {
		SourceID string `json:"source_id"`
	}
	if err := fromStruct(req, &in); err != nil {
		return nil, err
	}
	src, err := s.svc.GetSource(ctx, in.SourceID)
	return s.reply(src, err)
}

// sourceFromStruct decodes the source fields shared by register and update.
// enabled defaults to true.
func sourceFromStruct(req *structpb.Struct) (model.JobSource, error) {
	var in struct {
		SourceID   string `json:"source_id"`
		Name       string `json:"name"`
		SourceType string `json:"source_type"`
		Config     string `json:"config"`
		Enabled    *bool  `json:"enabled"`
	}
	if err := fromStruct(req, &in); err != nil {
		return model.JobSource{}, err
	}
	st, err := model.ParseSourceType(in.SourceType)
	if err != nil {
		return model.JobSource{}, status.Error(codes.InvalidArgument, err.Error())
	}
	return model.JobSource{
		SourceID:   in.SourceID,
		Name:       in.Name,
		SourceType: st,
		Config:     in.Config,
		Enabled:    in.Enabled == nil || *in.Enabled,
	}, nil
}

func (s *Server) ScanSource(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in struct {
		SourceID       string `json:"source_id"`
		Trigger        string `json:"trigger"`
		RespectBackoff bool   `json:"respect_backoff"`
	}
	if err := fromStruct(req, &in); err != nil {
		return nil, err
	}
	trigger, err := parseTrigger(in.Trigger)
	if err != nil {
		return nil, err
	}
	rec, err := s.svc.ScanSource(ctx, in.SourceID, trigger, in.RespectBackoff)
	return s.reply(rec, err)
}

func (s *Server) ScanAll(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in struct {
		EnabledOnly    *bool  `json:"enabled_only"`
		Trigger        string `json:"trigger"`
		RespectBackoff bool   `json:"respect_backoff"`
	}
	if err := fromStruct(req, &in); err != nil {
		return nil, err
	}
	trigger, err := parseTrigger(in.Trigger)
	if err != nil {
		return nil, err
	}
	if trigger == model.TriggerScheduled {
		summary, err := s.svc.ScanAllScheduled(ctx)
		return s.reply(summary, err)
	}
	summary, err := s.svc.ScanAll(ctx, in.EnabledOnly == nil || *in.EnabledOnly, trigger, in.RespectBackoff)
	return s.reply(summary, err)
}

func (s *Server) ListScanHistory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in struct {
		SourceID string `json:"source_id"`
		Trigger  string `json:"trigger"`
		Limit    int    `json:"limit"`
	}
	if err := fromStruct(req, &in); err != nil {
		return nil, err
	}
	var trigger model.Trigger
	if in.Trigger != "" {
		t, err := parseTrigger(in.Trigger)
		if err != nil {
			return nil, err
		}
		trigger = t
	}
	recs, err := s.svc.ListScanHistory(ctx, model.ScanHistoryFilter{SourceID: in.SourceID, Trigger: trigger, Limit: in.Limit})
	return s.reply(recs, err)
}

func (s *Server) UpsertPostings(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in struct {
		Postings []any `json:"postings"`
	}
	if err := fromStruct(req, &in); err != nil {
		return nil, err
	}
	raws, err := decodeRawPostings(in.Postings)
	if err != nil {
		return nil, toGRPCError(err)
	}
	res, err := s.svc.UpsertPostings(ctx, raws)
	if err != nil {
		return s.reply(nil, err)
	}
	return s.reply(map[string]any{"inserted": res.Inserted, "updated": res.Updated, "postings": res.Postings}, nil)
}

func (s *Server) ListPostings(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in struct {
		SourceID string `json:"source_id"`
		Query    string `json:"q"`
		Limit    int    `json:"limit"`
	}
	if err := fromStruct(req, &in); err != nil {
		return nil, err
	}
	postings, err := s.svc.ListPostings(ctx, model.PostingFilter{SourceID: in.SourceID, Query: in.Query, Limit: in.Limit})
	return s.reply(postings, err)
}

func (s *Server) Recommend(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in struct {
		ResumeText         string   `json:"resume_text"`
		Postings           []any    `json:"postings"`
		ProfileID          string   `json:"profile_id"`
		PreferredKeywords  []string `json:"preferred_keywords"`
		PreferredLocations []string `json:"preferred_locations"`
		PreferredCompanies []string `json:"preferred_companies"`
		RemoteOnly         *bool    `json:"remote_only"`
		Limit              int      `json:"limit"`
	}
	if err := fromStruct(req, &in); err != nil {
		return nil, err
	}
	raws, err := decodeRawPostings(in.Postings)
	if err != nil {
		return nil, toGRPCError(err)
	}
	resp, err := s.svc.Recommend(ctx, recommend.Request{
		ResumeText:         in.ResumeText,
		Postings:           raws,
		ProfileID:          in.ProfileID,
		PreferredKeywords:  in.PreferredKeywords,
		PreferredLocations: in.PreferredLocations,
		PreferredCompanies: in.PreferredCompanies,
		RemoteOnly:         in.RemoteOnly,
		Limit:              in.Limit,
	})
	return s.reply(resp, err)
}

func (s *Server) ListRecommendationHistory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in struct {
		Limit int `json:"limit"`
	}
	if err := fromStruct(req, &in); err != nil {
		return nil, err
	}
	runs, err := s.svc.ListRecommendationHistory(ctx, in.Limit)
	return s.reply(runs, err)
}

func (s *Server) UpsertProfile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var p model.Profile
	if err := fromStruct(req, &p); err != nil {
		return nil, err
	}
	saved, err := s.svc.UpsertProfile(ctx, p)
	return s.reply(saved, err)
}

func (s *Server) GetProfile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, err := s.svc.GetProfile(ctx, req.GetFields()["profile_id"].GetStringValue())
	return s.reply(p, err)
}

func (s *Server) ListProfiles(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	profiles, err := s.svc.ListProfiles(ctx)
	return s.reply(profiles, err)
}

func (s *Server) DeleteProfile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	err := s.svc.DeleteProfile(ctx, req.GetFields()["profile_id"].GetStringValue())
	return s.reply(map[string]any{}, err)
}

// ─── Access control ──────────────────────────────────────────────────────────

func (s *Server) IssueToken(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in auth.IssueRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, err
	}
	issued, err := s.svc.IssueToken(ctx, in)
	return s.reply(issued, err)
}

func (s *Server) ListTokens(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	tokens, err := s.svc.ListTokens(ctx)
	return s.reply(tokens, err)
}

func (s *Server) RevokeToken(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tok, err := s.svc.RevokeToken(ctx, req.GetFields()["token_id"].GetStringValue())
	if err != nil {
		return s.reply(nil, err)
	}
	return s.reply(map[string]any{"revoked": true, "metadata": tok}, nil)
}

func (s *Server) ListAuditEvents(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in struct {
		Action string `json:"action"`
		Status string `json:"status"`
		Limit  int    `json:"limit"`
	}
	if err := fromStruct(req, &in); err != nil {
		return nil, err
	}
	events, err := s.svc.ListAuditEvents(ctx, model.AuditFilter{
		Action: in.Action,
		Status: model.AuditStatus(in.Status),
		Limit:  in.Limit,
	})
	return s.reply(events, err)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// reply maps err or converts v. Slices are wrapped as {"items": [...]}.
func (s *Server) reply(v any, err error) (*structpb.Struct, error) {
	if err != nil {
		gerr := toGRPCError(err)
		if status.Code(gerr) == codes.Internal {
			s.log.Error("rpc failed", zap.Error(err))
		}
		return nil, gerr
	}
	out, err := toStruct(v)
	if err != nil {
		s.log.Error("encode reply", zap.Error(err))
		return nil, status.Error(codes.Internal, "internal server error")
	}
	return out, nil
}

func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(b) > 0 && b[0] == '[' {
		b = append(append([]byte(`{"items":`), b...), '}')
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, err
	}
	return out, nil
}

func fromStruct(in *structpb.Struct, v any) error {
	if in == nil {
		return nil
	}
	b, err := protojson.Marshal(in)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if err := json.Unmarshal(b, v); err != nil {
		return status.Error(codes.InvalidArgument, fmt.Sprintf("invalid request: %v", err))
	}
	return nil
}

func parseTrigger(raw string) (model.Trigger, error) {
	if raw == "" {
		return model.TriggerManual, nil
	}
	t, err := model.ParseTrigger(raw)
	if err != nil {
		return "", status.Error(codes.InvalidArgument, err.Error())
	}
	return t, nil
}

func decodeRawPostings(items []any) ([]model.RawPosting, error) {
	raws := make([]model.RawPosting, 0, len(items))
	for i, item := range items {
		raw, err := normalize.Decode(item)
		if err != nil {
			return nil, model.Invalidf("postings[%d]: %v", i, err)
		}
		raws = append(raws, raw)
	}
	return raws, nil
}

// toGRPCError maps domain errors to gRPC status errors.
func toGRPCError(err error) error {
	if errors.Is(err, model.ErrNotFound) {
		return status.Error(codes.NotFound, err.Error())
	}
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		return status.Error(codes.InvalidArgument, ve.Msg)
	}
	var ce *model.ConflictError
	if errors.As(err, &ce) {
		return status.Error(codes.AlreadyExists, ce.Error())
	}
	var fe *model.FetchError
	if errors.As(err, &fe) {
		return status.Error(codes.Unavailable, fe.Error())
	}
	return status.Error(codes.Internal, "internal server error")
}
