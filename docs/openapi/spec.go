// Package openapi embeds the OpenAPI description of the krakefactory HTTP API.
package openapi

import _ "embed"

// KrakefactorySpec is the OpenAPI 3 document served at /api/openapi.yaml.
//
//go:embed krakefactory.yaml
var KrakefactorySpec []byte

// Spec returns a defensive copy of the embedded OpenAPI YAML.
func Spec() []byte {
	return append([]byte(nil), KrakefactorySpec...)
}
