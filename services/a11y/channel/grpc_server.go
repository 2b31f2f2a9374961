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
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// serviceDesc describes a11ysync.ElementChannel. It is written by hand
// because messages travel through the JSON codec rather than protobuf.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Channel)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "QueryByElementID", Handler: queryByElementIDHandler},
		{MethodName: "QueryByText", Handler: queryByTextHandler},
		{MethodName: "QueryFocused", Handler: queryFocusedHandler},
		{MethodName: "FocusMoveSearch", Handler: focusMoveSearchHandler},
		{MethodName: "ResolveCrossWindowParent", Handler: resolveParentHandler},
		{MethodName: "ActiveWindow", Handler: activeWindowHandler},
		{MethodName: "QueryWindows", Handler: queryWindowsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "a11ysync/element_channel",
}

// RegisterServer exposes backend as the a11ysync.ElementChannel service.
//
// Any Channel implementation can be served: the fixture provider in
// production tooling, a fake in tests.
func RegisterServer(s grpc.ServiceRegistrar, backend Channel) {
	s.RegisterService(&serviceDesc, backend)
}

// LoggingInterceptor logs every unary call with its request id, duration
// and status code.
func LoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		requestID := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if ids := md.Get(RequestIDKey); len(ids) > 0 {
				requestID = ids[0]
			}
		}
		logger.Debug("element channel call",
			slog.String("method", info.FullMethod),
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("code", status.Code(err).String()),
		)
		return resp, err
	}
}

func queryByElementIDHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(QueryByElementIDRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		r := req.(*QueryByElementIDRequest)
		elems, err := srv.(Channel).QueryByElementID(ctx, r.WindowID, r.ElementID, r.Mode, r.TreeID)
		if err != nil {
			return nil, toStatus(err)
		}
		return &ElementsResponse{Elements: elems}, nil
	}
	return intercept(ctx, srv, in, methodQueryByElementID, interceptor, call)
}

func queryByTextHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(QueryByTextRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		r := req.(*QueryByTextRequest)
		elems, err := srv.(Channel).QueryByText(ctx, r.WindowID, r.ElementID, r.Text)
		if err != nil {
			return nil, toStatus(err)
		}
		return &ElementsResponse{Elements: elems}, nil
	}
	return intercept(ctx, srv, in, methodQueryByText, interceptor, call)
}

func queryFocusedHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(QueryFocusedRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		r := req.(*QueryFocusedRequest)
		elem, err := srv.(Channel).QueryFocused(ctx, r.WindowID, r.ElementID, r.FocusType)
		if err != nil {
			return nil, toStatus(err)
		}
		return &ElementResponse{Element: elem}, nil
	}
	return intercept(ctx, srv, in, methodQueryFocused, interceptor, call)
}

func focusMoveSearchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(FocusMoveSearchRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		r := req.(*FocusMoveSearchRequest)
		elem, err := srv.(Channel).FocusMoveSearch(ctx, r.WindowID, r.ElementID, r.Direction)
		if err != nil {
			return nil, toStatus(err)
		}
		return &ElementResponse{Element: elem}, nil
	}
	return intercept(ctx, srv, in, methodFocusMoveSearch, interceptor, call)
}

func resolveParentHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ResolveParentRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		r := req.(*ResolveParentRequest)
		id, err := srv.(Channel).ResolveCrossWindowParent(ctx, r.WindowID, r.TreeID)
		if err != nil {
			return nil, toStatus(err)
		}
		return &ResolveParentResponse{ElementID: id}, nil
	}
	return intercept(ctx, srv, in, methodResolveCrossWindowParent, interceptor, call)
}

func activeWindowHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ActiveWindowRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, _ any) (any, error) {
		id, err := srv.(Channel).ActiveWindow(ctx)
		if err != nil {
			return nil, toStatus(err)
		}
		return &ActiveWindowResponse{WindowID: id}, nil
	}
	return intercept(ctx, srv, in, methodActiveWindow, interceptor, call)
}

func queryWindowsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(QueryWindowsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, _ any) (any, error) {
		windows, err := srv.(Channel).QueryWindows(ctx)
		if err != nil {
			return nil, toStatus(err)
		}
		return &WindowsResponse{Windows: windows}, nil
	}
	return intercept(ctx, srv, in, methodQueryWindows, interceptor, call)
}

// intercept runs call directly or through the server's interceptor chain.
func intercept(ctx context.Context, srv, in any, method string, interceptor grpc.UnaryServerInterceptor, call grpc.UnaryHandler) (any, error) {
	if interceptor == nil {
		return call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
	return interceptor(ctx, in, info, call)
}
