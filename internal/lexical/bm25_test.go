package lexical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixtureDocs() []Document {
	return []Document{
		{ID: "c1", Content: "Access rights must be reviewed every 90 days by the security team.",
			Metadata: map[string]string{"company_id": "acme", "kind": "chunk"}},
		{ID: "c2", Content: "Full backups of customer data run nightly and are stored offsite.",
			Metadata: map[string]string{"company_id": "acme", "kind": "chunk"}},
		{ID: "c3", Content: "The incident response plan covers detection, containment and recovery.",
			Metadata: map[string]string{"company_id": "acme", "kind": "chunk"}},
		{ID: "c4", Content: "Access to the building requires a badge.",
			Metadata: map[string]string{"company_id": "globex", "kind": "chunk"}},
	}
}

func TestIndex_Search(t *testing.T) {
	idx := NewIndex()
	idx.Add(fixtureDocs()...)
	require.Equal(t, 4, idx.Len())

	hits := idx.Search("access review security", 10, nil)
	require.NotEmpty(t, hits)
	assert.Equal(t, "c1", hits[0].ID)

	hits = idx.Search("backups offsite", 10, nil)
	require.NotEmpty(t, hits)
	assert.Equal(t, "c2", hits[0].ID)
}

func TestIndex_SearchFilters(t *testing.T) {
	idx := NewIndex()
	idx.Add(fixtureDocs()...)

	hits := idx.Search("access", 10, map[string]string{"company_id": "globex"})
	require.Len(t, hits, 1)
	assert.Equal(t, "c4", hits[0].ID)

	hits = idx.Search("access", 10, map[string]string{"company_id": "initech"})
	assert.Empty(t, hits)
}

func TestIndex_SearchLimit(t *testing.T) {
	idx := NewIndex()
	idx.Add(fixtureDocs()...)

	hits := idx.Search("access security backup incident", 2, nil)
	assert.Len(t, hits, 2)
}

func TestIndex_AddReplacesByID(t *testing.T) {
	idx := NewIndex()
	idx.Add(Document{ID: "c1", Content: "encryption keys rotate yearly"})
	idx.Add(Document{ID: "c1", Content: "passwords rotate monthly"})
	require.Equal(t, 1, idx.Len())

	assert.Empty(t, idx.Search("encryption", 10, nil))
	hits := idx.Search("passwords", 10, nil)
	require.Len(t, hits, 1)
	assert.Equal(t, "c1", hits[0].ID)
}

func TestIndex_Remove(t *testing.T) {
	idx := NewIndex()
	idx.Add(fixtureDocs()...)
	idx.Remove("c1", "c2")

	assert.Equal(t, 2, idx.Len())
	assert.Empty(t, idx.Search("backups", 10, nil))
}

func TestIndex_EmptyInputs(t *testing.T) {
	idx := NewIndex()
	assert.Nil(t, idx.Search("anything", 10, nil))

	idx.Add(fixtureDocs()...)
	assert.Nil(t, idx.Search("", 10, nil))
	assert.Nil(t, idx.Search("access", 0, nil))
}

func TestIndex_StableTieOrder(t *testing.T) {
	idx := NewIndex()
	idx.Add(
		Document{ID: "b", Content: "retention policy"},
		Document{ID: "a", Content: "retention policy"},
	)
	hits := idx.Search("retention", 10, nil)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.Equal(t, "b", hits[1].ID)
}
