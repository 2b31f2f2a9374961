// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package element

import "errors"

// Sentinel errors for the element client.
//
// Callers classify failures with errors.Is. Wrapped errors keep the
// transport cause alongside the sentinel.
var (
	// ErrNoConnection indicates the provider service is unavailable or the
	// connection has not been established yet.
	ErrNoConnection = errors.New("no connection to element provider")

	// ErrInvalidParam indicates a bad caller argument.
	ErrInvalidParam = errors.New("invalid parameter")

	// ErrProviderQueryFailed indicates a channel call executed but failed.
	ErrProviderQueryFailed = errors.New("provider query failed")

	// ErrEmptyProviderResult indicates a channel call succeeded with no
	// data. Callers may broaden the query and retry on this error, but
	// not on ErrProviderQueryFailed.
	ErrEmptyProviderResult = errors.New("provider returned no elements")

	// ErrAssemblyInconsistent indicates a batch could not be turned into a
	// coherent tree. The assembler recovers locally; this error is only
	// used to annotate logs and spans.
	ErrAssemblyInconsistent = errors.New("element batch is inconsistent")
)

// Code is the numeric form of the error taxonomy.
type Code int

const (
	CodeOK Code = iota
	CodeNoConnection
	CodeInvalidParam
	CodeProviderQueryFailed
	CodeEmptyProviderResult
	CodeAssemblyInconsistent
	CodeUnknown
)

// String returns the code name.
func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeNoConnection:
		return "no_connection"
	case CodeInvalidParam:
		return "invalid_param"
	case CodeProviderQueryFailed:
		return "provider_query_failed"
	case CodeEmptyProviderResult:
		return "empty_provider_result"
	case CodeAssemblyInconsistent:
		return "assembly_inconsistent"
	default:
		return "unknown"
	}
}

// CodeOf classifies err. A nil error is CodeOK.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrNoConnection):
		return CodeNoConnection
	case errors.Is(err, ErrInvalidParam):
		return CodeInvalidParam
	case errors.Is(err, ErrEmptyProviderResult):
		return CodeEmptyProviderResult
	case errors.Is(err, ErrProviderQueryFailed):
		return CodeProviderQueryFailed
	case errors.Is(err, ErrAssemblyInconsistent):
		return CodeAssemblyInconsistent
	default:
		return CodeUnknown
	}
}
