/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package storage

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	gojsonschema "github.com/xeipuuv/gojsonschema"
)

//go:embed song.schema.json
var manifestSchema []byte

// ErrInvalidManifest is returned when a manifest does not conform to the song schema.
var ErrInvalidManifest = errors.New("invalid manifest")

var schemaLoader = gojsonschema.NewBytesLoader(manifestSchema)

// ManifestSchema returns the JSON schema used to check manifests.
func ManifestSchema() []byte { return manifestSchema }

// ValidateManifest checks raw manifest bytes against the embedded schema.
func ValidateManifest(data []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidManifest, strings.Join(msgs, "; "))
}
