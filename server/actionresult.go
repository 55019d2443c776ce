// Copyright 2016 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package server

// ActionResult is the universal return shape of Cluster mutators (spec.md
// §3): a success flag, a human-readable message and optional structured
// data, mirroring the plain-struct JSON envelopes the teacher's API package
// returns from each handler (server/api/store.go's storeInfo/storesInfo).
type ActionResult struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// Ok builds a successful ActionResult, optionally carrying data.
func Ok(data map[string]interface{}) ActionResult {
	return ActionResult{Success: true, Data: data}
}

// Fail builds a failed ActionResult with the given message.
func Fail(message string) ActionResult {
	return ActionResult{Success: false, Message: message}
}

// Failf builds a failed ActionResult the way the teacher builds traced
// errors, capturing err.Error() as the message.
func Failf(err error) ActionResult {
	if err == nil {
		return Ok(nil)
	}
	return ActionResult{Success: false, Message: err.Error()}
}
