package identify_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sproutly/sproutly/server/internal/airouter"
	"github.com/sproutly/sproutly/server/internal/identify"
	"github.com/sproutly/sproutly/server/internal/providers"
	"github.com/sproutly/sproutly/server/internal/retry"
	"github.com/sproutly/sproutly/server/internal/species"
	"github.com/sproutly/sproutly/server/internal/storage"
	"github.com/sproutly/sproutly/server/internal/store"
	"github.com/sproutly/sproutly/server/internal/usage"
	"github.com/sproutly/sproutly/server/pkg/models"
)

func testImage(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 64)), nil))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func plantIDResult(topConfidence float64, alternatives int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		suggestions := []map[string]interface{}{{
			"name": "Monstera deliciosa", "probability": topConfidence,
			"details": map[string]interface{}{
				"common_names": []string{"Swiss cheese plant"},
				"taxonomy":     map[string]string{"family": "Araceae", "genus": "Monstera"},
			},
		}}
		for i := 0; i < alternatives; i++ {
			suggestions = append(suggestions, map[string]interface{}{
				"name": "Monstera adansonii", "probability": topConfidence / 2,
			})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{
				"is_plant":       map[string]interface{}{"binary": true},
				"classification": map[string]interface{}{"suggestions": suggestions},
			},
		})
	})
}

func newPipeline(t *testing.T, plantID http.Handler) (*identify.Pipeline, *store.MemoryStoreImpl) {
	t.Helper()
	srv := httptest.NewServer(plantID)
	t.Cleanup(srv.Close)

	mem := store.NewMemoryStore()
	router := airouter.New(
		providers.NewPlantIDGateway("k", providers.WithPlantIDBaseURL(srv.URL)),
		providers.NewGeminiGateway("k", providers.WithGeminiBaseURL("http://127.0.0.1:1")),
		providers.NewClaudeGateway("k", providers.WithClaudeBaseURL("http://127.0.0.1:1")),
		providers.NewOpenAIGateway("k", providers.WithOpenAIBaseURL("http://127.0.0.1:1")),
		usage.NewRecorder(mem),
		retry.Config{MaxAttempts: 1, BaseDelay: time.Millisecond},
	)

	objects, err := storage.NewLocalStore(t.TempDir(), "http://localhost:8080/photos", "secret")
	require.NoError(t, err)

	return identify.NewPipeline(router, species.NewResolver(mem), objects, mem, 0.70, time.Hour), mem
}

func TestIdentifyConfidentResultOmitsAlternatives(t *testing.T) {
	p, mem := newPipeline(t, plantIDResult(0.93, 3))

	resp, meta, err := p.Identify(context.Background(), "u1", []string{testImage(t)})
	require.NoError(t, err)
	assert.Equal(t, "monstera deliciosa", resp.Species.ScientificName)
	assert.Equal(t, 0.93, resp.Species.Confidence)
	assert.Empty(t, resp.SimilarSpecies)
	assert.Equal(t, "plant-id", meta.Provider)

	// The top candidate landed in the catalog.
	require.NotEmpty(t, resp.Species.ID)
	sp, err := mem.GetSpeciesByID(context.Background(), resp.Species.ID)
	require.NoError(t, err)
	assert.Equal(t, "monstera deliciosa", sp.ScientificName)
}

func TestIdentifyLowConfidenceListsAlternatives(t *testing.T) {
	p, _ := newPipeline(t, plantIDResult(0.45, 3))

	resp, _, err := p.Identify(context.Background(), "u1", []string{testImage(t)})
	require.NoError(t, err)
	require.Len(t, resp.SimilarSpecies, 3)
	assert.Equal(t, "Monstera adansonii", resp.SimilarSpecies[0].ScientificName)
}

func TestIdentifyStoresPhotoUnderTempKey(t *testing.T) {
	p, mem := newPipeline(t, plantIDResult(0.93, 0))

	resp, _, err := p.Identify(context.Background(), "u1", []string{testImage(t)})
	require.NoError(t, err)
	assert.Contains(t, resp.Photo.URL, "u1/temp-")
	assert.Contains(t, resp.Photo.URL, "sig=")
	assert.Contains(t, resp.Photo.ThumbnailURL, "-thumb.jpg")

	photos, err := mem.ListPhotos(context.Background(), "u1", "")
	require.NoError(t, err)
	require.Len(t, photos, 1)
	assert.Equal(t, models.PhotoIdentification, photos[0].Kind)
	assert.Regexp(t, `^u1/temp-\d+/identification-\d+\.jpg$`, photos[0].URL)
	assert.Regexp(t, `^u1/temp-\d+/identification-\d+-thumb\.jpg$`, photos[0].ThumbnailURL)
}

func TestIdentifyInvalidInputSkipsProviders(t *testing.T) {
	called := false
	p, _ := newPipeline(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	_, _, err := p.Identify(context.Background(), "u1", nil)
	var ve *identify.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.False(t, called)
}
