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

import "github.com/AleutianAI/a11ysync/services/a11y/element"

// Wire messages of the a11ysync.ElementChannel service.

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "a11ysync.ElementChannel"

const (
	methodQueryByElementID         = "/" + ServiceName + "/QueryByElementID"
	methodQueryByText              = "/" + ServiceName + "/QueryByText"
	methodQueryFocused             = "/" + ServiceName + "/QueryFocused"
	methodFocusMoveSearch          = "/" + ServiceName + "/FocusMoveSearch"
	methodResolveCrossWindowParent = "/" + ServiceName + "/ResolveCrossWindowParent"
	methodActiveWindow             = "/" + ServiceName + "/ActiveWindow"
	methodQueryWindows             = "/" + ServiceName + "/QueryWindows"
)

// QueryByElementIDRequest is the request of QueryByElementID.
type QueryByElementIDRequest struct {
	WindowID  int32                `json:"window_id"`
	ElementID int64                `json:"element_id"`
	Mode      element.PrefetchMode `json:"mode"`
	TreeID    int32                `json:"tree_id"`
}

// QueryByTextRequest is the request of QueryByText.
type QueryByTextRequest struct {
	WindowID  int32  `json:"window_id"`
	ElementID int64  `json:"element_id"`
	Text      string `json:"text"`
}

// QueryFocusedRequest is the request of QueryFocused.
type QueryFocusedRequest struct {
	WindowID  int32             `json:"window_id"`
	ElementID int64             `json:"element_id"`
	FocusType element.FocusType `json:"focus_type"`
}

// FocusMoveSearchRequest is the request of FocusMoveSearch.
type FocusMoveSearchRequest struct {
	WindowID  int32             `json:"window_id"`
	ElementID int64             `json:"element_id"`
	Direction element.Direction `json:"direction"`
}

// ResolveParentRequest is the request of ResolveCrossWindowParent.
type ResolveParentRequest struct {
	WindowID int32 `json:"window_id"`
	TreeID   int32 `json:"tree_id"`
}

// ResolveParentResponse carries the resolved parent element id.
type ResolveParentResponse struct {
	ElementID int64 `json:"element_id"`
}

// ActiveWindowRequest is the (empty) request of ActiveWindow.
type ActiveWindowRequest struct{}

// ActiveWindowResponse carries the active window id.
type ActiveWindowResponse struct {
	WindowID int32 `json:"window_id"`
}

// QueryWindowsRequest is the (empty) request of QueryWindows.
type QueryWindowsRequest struct{}

// WindowsResponse carries the provider's windows.
type WindowsResponse struct {
	Windows []element.WindowInfo `json:"windows"`
}

// ElementsResponse carries a batch of snapshots.
type ElementsResponse struct {
	Elements []element.ElementSnapshot `json:"elements"`
}

// ElementResponse carries a single snapshot.
type ElementResponse struct {
	Element element.ElementSnapshot `json:"element"`
}
