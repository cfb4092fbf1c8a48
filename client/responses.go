/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package client

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

func decodeJSONResponse(resp *Response, data any) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ProtocolError{
			URL:        nodeURL(resp.Node),
			StatusCode: resp.StatusCode,
			Cause:      fmt.Errorf("unexpected status code: %s", truncateBody(resp.Body)),
		}
	}

	err := json.Unmarshal(resp.Body, data)
	if err != nil {
		return &ProtocolError{
			URL:        nodeURL(resp.Node),
			StatusCode: resp.StatusCode,
			Cause:      err,
		}
	}

	return nil
}

func truncateBody(body []byte) string {
	const maxLen = 256
	if len(body) <= maxLen {
		return string(body)
	}

	cut := maxLen
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return string(body[:cut]) + "..."
}
