package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSchema(t *testing.T) {
	schema := buildSchema()
	assert.EqualValues(t, schemaID, schema.ID)
	require.NotNil(t, schema.Properties)

	for name, doc := range sectionDocs {
		section, ok := schema.Properties.Get(name)
		require.True(t, ok, "missing section %s", name)
		assert.Equal(t, doc, section.Description)
	}

	server, ok := schema.Properties.Get("server")
	require.True(t, ok)
	timeout, ok := server.Properties.Get("shutdown_timeout")
	require.True(t, ok)
	assert.Equal(t, "string", timeout.Type)
	assert.Regexp(t, timeout.Pattern, "1m30s")
}
