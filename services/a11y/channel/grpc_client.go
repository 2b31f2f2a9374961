// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/a11ysync/services/a11y/element"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// RequestIDKey is the gRPC metadata key carrying the per-call request id.
const RequestIDKey = "x-request-id"

// GRPCChannel is a Channel backed by a gRPC client connection.
//
// Thread Safety: Safe for concurrent use; grpc.ClientConn multiplexes calls.
type GRPCChannel struct {
	conn *grpc.ClientConn
}

// NewGRPCChannel wraps an established client connection.
func NewGRPCChannel(conn *grpc.ClientConn) *GRPCChannel {
	return &GRPCChannel{conn: conn}
}

// Close closes the underlying connection.
func (c *GRPCChannel) Close() error {
	return c.conn.Close()
}

// QueryByElementID implements Channel.
func (c *GRPCChannel) QueryByElementID(ctx context.Context, windowID int32, elementID int64, mode element.PrefetchMode, treeID int32) ([]element.ElementSnapshot, error) {
	req := &QueryByElementIDRequest{WindowID: windowID, ElementID: elementID, Mode: mode, TreeID: treeID}
	resp := new(ElementsResponse)
	if err := c.invoke(ctx, methodQueryByElementID, req, resp); err != nil {
		return nil, err
	}
	return resp.Elements, nil
}

// QueryByText implements Channel.
func (c *GRPCChannel) QueryByText(ctx context.Context, windowID int32, elementID int64, text string) ([]element.ElementSnapshot, error) {
	req := &QueryByTextRequest{WindowID: windowID, ElementID: elementID, Text: text}
	resp := new(ElementsResponse)
	if err := c.invoke(ctx, methodQueryByText, req, resp); err != nil {
		return nil, err
	}
	return resp.Elements, nil
}

// QueryFocused implements Channel.
func (c *GRPCChannel) QueryFocused(ctx context.Context, windowID int32, elementID int64, focusType element.FocusType) (element.ElementSnapshot, error) {
	req := &QueryFocusedRequest{WindowID: windowID, ElementID: elementID, FocusType: focusType}
	resp := new(ElementResponse)
	if err := c.invoke(ctx, methodQueryFocused, req, resp); err != nil {
		return element.ElementSnapshot{}, err
	}
	return resp.Element, nil
}

// FocusMoveSearch implements Channel.
func (c *GRPCChannel) FocusMoveSearch(ctx context.Context, windowID int32, elementID int64, direction element.Direction) (element.ElementSnapshot, error) {
	req := &FocusMoveSearchRequest{WindowID: windowID, ElementID: elementID, Direction: direction}
	resp := new(ElementResponse)
	if err := c.invoke(ctx, methodFocusMoveSearch, req, resp); err != nil {
		return element.ElementSnapshot{}, err
	}
	return resp.Element, nil
}

// ResolveCrossWindowParent implements Channel.
func (c *GRPCChannel) ResolveCrossWindowParent(ctx context.Context, windowID int32, treeID int32) (int64, error) {
	req := &ResolveParentRequest{WindowID: windowID, TreeID: treeID}
	resp := new(ResolveParentResponse)
	if err := c.invoke(ctx, methodResolveCrossWindowParent, req, resp); err != nil {
		return 0, err
	}
	return resp.ElementID, nil
}

// ActiveWindow implements Channel.
func (c *GRPCChannel) ActiveWindow(ctx context.Context) (int32, error) {
	resp := new(ActiveWindowResponse)
	if err := c.invoke(ctx, methodActiveWindow, &ActiveWindowRequest{}, resp); err != nil {
		return element.InvalidWindowID, err
	}
	return resp.WindowID, nil
}

// QueryWindows implements Channel.
func (c *GRPCChannel) QueryWindows(ctx context.Context) ([]element.WindowInfo, error) {
	resp := new(WindowsResponse)
	if err := c.invoke(ctx, methodQueryWindows, &QueryWindowsRequest{}, resp); err != nil {
		return nil, err
	}
	return resp.Windows, nil
}

// invoke performs one unary call with a fresh request id and maps the
// gRPC status to channel errors.
func (c *GRPCChannel) invoke(ctx context.Context, method string, req, resp any) error {
	ctx = metadata.AppendToOutgoingContext(ctx, RequestIDKey, uuid.NewString())
	err := c.conn.Invoke(ctx, method, req, resp, grpc.CallContentSubtype(codecName))
	if err != nil {
		return fromStatus(method, err)
	}
	return nil
}

// fromStatus converts a gRPC error into the channel error vocabulary.
func fromStatus(method string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%s: %w", method, err)
	}
	switch st.Code() {
	case codes.Unavailable:
		return fmt.Errorf("%s: %w: %s", method, ErrUnavailable, st.Message())
	case codes.NotFound:
		return fmt.Errorf("%s: %w: %s", method, element.ErrEmptyProviderResult, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%s: %w: %s", method, element.ErrInvalidParam, st.Message())
	default:
		return fmt.Errorf("%s: %s: %s", method, st.Code(), st.Message())
	}
}

// toStatus converts a provider error into a gRPC status for the wire.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, element.ErrEmptyProviderResult):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, element.ErrInvalidParam):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ErrUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// GRPCLoader dials the provider and waits until the connection is ready.
type GRPCLoader struct {
	// Target is the gRPC dial target, e.g. "localhost:7443".
	Target string

	// Options are extra dial options. Insecure transport credentials and
	// OpenTelemetry instrumentation are added by default.
	Options []grpc.DialOption

	// Logger receives connection state transitions. Defaults to slog.Default().
	Logger *slog.Logger
}

// Load implements Loader.
//
// Description:
//
//	Creates the client connection, forces it out of idle and blocks until
//	it reports Ready or ctx is done. A connection that never becomes ready
//	is closed before returning.
//
// Outputs:
//
//	Channel - A *GRPCChannel on success.
//	error - ctx.Err() wrapped with ErrUnavailable on timeout, or a dial error.
func (l GRPCLoader) Load(ctx context.Context) (Channel, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}, l.Options...)

	conn, err := grpc.NewClient(l.Target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", l.Target, err)
	}

	for {
		state := conn.GetState()
		if state == connectivity.Idle {
			conn.Connect()
		}
		if state == connectivity.Ready {
			logger.Debug("element provider connected", slog.String("target", l.Target))
			return NewGRPCChannel(conn), nil
		}
		logger.Debug("waiting for element provider",
			slog.String("target", l.Target),
			slog.String("state", state.String()),
		)
		if !conn.WaitForStateChange(ctx, state) {
			_ = conn.Close()
			return nil, fmt.Errorf("connect %s: %w: %w", l.Target, ErrUnavailable, ctx.Err())
		}
	}
}
