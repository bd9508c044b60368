package api

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/syvkst/curia/internal/reconciler"
	"github.com/syvkst/curia/pkg/types"
)

func TestOpenAPIContract_ParsesAndHasRequiredPaths(t *testing.T) {
	doc := decodeOpenAPI(t)
	assert.Equal(t, "3.0.3", asString(doc["openapi"]))

	paths := mapAt(t, doc, "paths")
	for _, path := range []string{
		"/health",
		"/readiness",
		"/version",
		"/metrics",
		"/api/openapi.yaml",
		"/listings/v1/listings",
		"/listings/v1/listings/{id}",
		"/listings/v1/listings/{id}/cases",
		"/listings/v1/listings/{id}/cases/{caseID}",
		"/listings/v1/listings/{id}/sort",
		"/listings/v1/catalog/courts",
		"/listings/v1/editors",
		"/listings/v1/editors/{editorID}",
		"/listings/v1/editors/{editorID}/messages",
		"/listings/v1/editors/{editorID}/refresh",
	} {
		assert.Containsf(t, paths, path, "missing path %s", path)
	}
}

func TestOpenAPIContract_EnumsMatchDomainModel(t *testing.T) {
	doc := decodeOpenAPI(t)
	schemas := mapAt(t, mapAt(t, doc, "components"), "schemas")

	assert.ElementsMatch(
		t,
		[]string{string(types.CaseTypeCriminal), string(types.CaseTypeCivil)},
		stringSliceAt(t, mapAt(t, schemas, "CaseType"), "enum"),
	)

	assert.ElementsMatch(
		t,
		[]string{
			string(types.RolePresiding),
			string(types.RoleSecretary),
			string(types.RoleMember),
			string(types.RoleProsecutor),
		},
		stringSliceAt(t, mapAt(t, schemas, "OfficerRole"), "enum"),
	)

	states := []string{}
	for _, s := range []reconciler.State{
		reconciler.StateEmpty,
		reconciler.StateLoaded,
		reconciler.StateDirty,
		reconciler.StateSaving,
		reconciler.StateError,
	} {
		states = append(states, s.String())
	}
	view := mapAt(t, mapAt(t, schemas, "EditorView"), "properties")
	assert.ElementsMatch(t, states, stringSliceAt(t, mapAt(t, view, "state"), "enum"))

	ref := mapAt(t, mapAt(t, schemas, "FieldRef"), "properties")
	assert.ElementsMatch(
		t,
		[]string{string(reconciler.ScopeListing), string(reconciler.ScopeCase)},
		stringSliceAt(t, mapAt(t, ref, "scope"), "enum"),
	)
}

func TestOpenAPIContract_ListingPropertiesMatchJSON(t *testing.T) {
	doc := decodeOpenAPI(t)
	schemas := mapAt(t, mapAt(t, doc, "components"), "schemas")

	listing := mapAt(t, mapAt(t, schemas, "Listing"), "properties")
	for _, field := range []string{
		"id", "revision", "creationDate", "date", "break", "court", "office",
		"department", "room", "notes", "notePublicity", "cases",
	} {
		assert.Containsf(t, listing, field, "Listing is missing %s", field)
	}

	kase := mapAt(t, mapAt(t, schemas, "Case"), "properties")
	for _, field := range []string{
		"id", "caseNumber", "prosecutorCaseNumber", "matter", "time", "type", "officers", "civilians",
	} {
		assert.Containsf(t, kase, field, "Case is missing %s", field)
	}
}

func TestOpenAPIContract_ItemOperationsDocumentNotFound(t *testing.T) {
	doc := decodeOpenAPI(t)
	paths := mapAt(t, doc, "paths")

	for path, item := range paths {
		if !strings.HasPrefix(path, "/listings/v1/listings/{id}") &&
			!strings.HasPrefix(path, "/listings/v1/editors/{editorID}") {
			continue
		}
		for method, raw := range mapValue(t, item, path) {
			if method == "parameters" {
				continue
			}
			op := mapValue(t, raw, path+" "+method)
			responses := mapAt(t, op, "responses")
			assert.Containsf(t, responses, "404", "%s %s does not document 404", method, path)
			assert.NotEmptyf(t, asString(op["operationId"]), "%s %s has no operationId", method, path)
		}
	}
}

func TestOpenAPIContract_ExampleListingDecodes(t *testing.T) {
	doc := decodeOpenAPI(t)
	examples := mapAt(t, mapAt(t, doc, "components"), "examples")
	value := mapAt(t, mapAt(t, examples, "MorningSessionListing"), "value")

	raw, err := yaml.Marshal(value)
	require.NoError(t, err)

	var listing struct {
		Break string `yaml:"break"`
		Cases []struct {
			Time string `yaml:"time"`
			Type string `yaml:"type"`
		} `yaml:"cases"`
	}
	require.NoError(t, yaml.Unmarshal(raw, &listing))
	assert.True(t, types.ClockTime(listing.Break).Valid())
	require.Len(t, listing.Cases, 1)
	assert.True(t, types.ClockTime(listing.Cases[0].Time).Valid())
	assert.Equal(t, string(types.CaseTypeCriminal), listing.Cases[0].Type)
}

func decodeOpenAPI(t *testing.T) map[string]any {
	t.Helper()

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(OpenAPISpec, &doc))
	require.NotEmpty(t, doc)
	return doc
}

func mapAt(t *testing.T, parent map[string]any, key string) map[string]any {
	t.Helper()
	value, ok := parent[key]
	require.Truef(t, ok, "missing key %q", key)
	return mapValue(t, value, key)
}

func mapValue(t *testing.T, value any, name string) map[string]any {
	t.Helper()
	out, ok := value.(map[string]any)
	require.Truef(t, ok, "%s must be an object", name)
	return out
}

func stringSliceAt(t *testing.T, parent map[string]any, key string) []string {
	t.Helper()
	value, ok := parent[key]
	require.Truef(t, ok, "missing key %q", key)
	return stringSliceValue(t, value)
}

func stringSliceValue(t *testing.T, value any) []string {
	t.Helper()
	raw, ok := value.([]any)
	require.True(t, ok, "value must be an array")
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		out = append(out, asString(item))
	}
	return out
}

func asString(value any) string {
	if text, ok := value.(string); ok {
		return text
	}
	return ""
}
