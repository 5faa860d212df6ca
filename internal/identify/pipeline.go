// Package identify implements the photo identification pipeline: input
// validation, parallel vendor routing and photo upload, thumbnailing,
// species catalog resolution, and response shaping.
package identify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sproutly/sproutly/server/internal/airouter"
	"github.com/sproutly/sproutly/server/internal/providers"
	"github.com/sproutly/sproutly/server/internal/species"
	"github.com/sproutly/sproutly/server/internal/storage"
	"github.com/sproutly/sproutly/server/internal/store"
	"github.com/sproutly/sproutly/server/pkg/models"
)

// maxSimilar bounds the similarSpecies list in the response.
const maxSimilar = 5

// Pipeline orchestrates one identification request end to end.
type Pipeline struct {
	router   *airouter.Router
	resolver *species.Resolver
	objects  storage.ObjectStorage
	photos   store.PhotoStore

	lowConfidence float64
	signedURLTTL  time.Duration
}

// NewPipeline creates the identification pipeline.
func NewPipeline(router *airouter.Router, resolver *species.Resolver, objects storage.ObjectStorage, photos store.PhotoStore, lowConfidence float64, signedURLTTL time.Duration) *Pipeline {
	if lowConfidence <= 0 {
		lowConfidence = 0.70
	}
	if signedURLTTL <= 0 {
		signedURLTTL = time.Hour
	}
	return &Pipeline{
		router:        router,
		resolver:      resolver,
		objects:       objects,
		photos:        photos,
		lowConfidence: lowConfidence,
		signedURLTTL:  signedURLTTL,
	}
}

// uploadResult carries the stored photo's signed URLs.
type uploadResult struct {
	photoID      string
	url          string
	thumbnailURL string
}

// Identify validates and routes the images, storing the first photo
// alongside. The photo upload is best effort: its failure never fails
// the identification.
func (p *Pipeline) Identify(ctx context.Context, userID string, images []string) (*models.IdentifyResponse, *models.IdentifyMeta, error) {
	start := time.Now()

	if err := ValidateImages(images); err != nil {
		return nil, nil, err
	}
	normalized := providers.NormalizeImages(images)

	var (
		result *providers.IdentificationResult
		meta   airouter.Meta
		upload uploadResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		result, meta, err = p.router.Identify(gctx, userID, normalized)
		return err
	})
	g.Go(func() error {
		// Uses the request context, not gctx: a routing failure should
		// not cancel an upload already in flight, and an upload failure
		// is swallowed below either way.
		upload = p.uploadPhoto(ctx, userID, normalized[0])
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	resp := p.shapeResponse(ctx, result, upload)
	return resp, &models.IdentifyMeta{
		Provider:         meta.Provider,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// uploadPhoto stores the original and its thumbnail under a temporary
// key (no plant exists yet) and records the photo row. Every failure
// degrades to empty URLs.
func (p *Pipeline) uploadPhoto(ctx context.Context, userID, b64 string) uploadResult {
	img, err := decodeImage(b64)
	if err != nil {
		log.Warn().Err(err).Msg("photo decode failed, skipping upload")
		return uploadResult{}
	}

	original, err := encodeJPEG(img, 90)
	if err != nil {
		log.Warn().Err(err).Msg("photo encode failed, skipping upload")
		return uploadResult{}
	}
	thumb, err := Thumbnail(img)
	if err != nil {
		log.Warn().Err(err).Msg("thumbnail failed, skipping upload")
		return uploadResult{}
	}

	// No plant exists yet, so the photo parks under a timestamped temp
	// prefix until a plant claims it.
	ms := time.Now().UnixMilli()
	key := fmt.Sprintf("%s/temp-%d/identification-%d.jpg", userID, ms, ms)
	thumbKey := fmt.Sprintf("%s/temp-%d/identification-%d-thumb.jpg", userID, ms, ms)

	if err := p.objects.Put(ctx, key, original, "image/jpeg"); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("photo upload failed")
		return uploadResult{}
	}
	if err := p.objects.Put(ctx, thumbKey, thumb, "image/jpeg"); err != nil {
		log.Warn().Err(err).Str("key", thumbKey).Msg("thumbnail upload failed")
	}

	url, err := p.objects.SignedURL(key, p.signedURLTTL)
	if err != nil {
		log.Warn().Err(err).Msg("signing photo url failed")
		return uploadResult{}
	}
	thumbURL, err := p.objects.SignedURL(thumbKey, p.signedURLTTL)
	if err != nil {
		thumbURL = ""
	}

	photo := &models.PlantPhoto{
		ID:           uuid.NewString(),
		UserID:       userID,
		Kind:         models.PhotoIdentification,
		URL:          key,
		ThumbnailURL: thumbKey,
		CreatedAt:    time.Now().UTC(),
	}
	if err := p.photos.CreatePhoto(ctx, photo); err != nil {
		log.Warn().Err(err).Msg("photo record insert failed")
	}

	return uploadResult{photoID: photo.ID, url: url, thumbnailURL: thumbURL}
}

// shapeResponse resolves the top candidate against the catalog and
// applies the low-confidence alternatives rule.
func (p *Pipeline) shapeResponse(ctx context.Context, result *providers.IdentificationResult, upload uploadResult) *models.IdentifyResponse {
	speciesID := p.resolver.ResolveOrLog(ctx, result.Top)

	resp := &models.IdentifyResponse{
		Species: models.IdentifiedSpecies{
			ID: speciesID,
			// The canonical form stored in the catalog, not the vendor's
			// casing.
			ScientificName: species.Normalize(result.Top.ScientificName),
			CommonNames:    result.Top.CommonNames,
			Family:         result.Top.Family,
			Confidence:     result.Top.Confidence,
		},
		SimilarSpecies: []models.SimilarSpecies{},
		Photo: models.IdentifyPhoto{
			URL:          upload.url,
			ThumbnailURL: upload.thumbnailURL,
		},
	}

	if result.Top.Confidence < p.lowConfidence {
		for _, alt := range result.Alternatives {
			if len(resp.SimilarSpecies) == maxSimilar {
				break
			}
			resp.SimilarSpecies = append(resp.SimilarSpecies, models.SimilarSpecies{
				ScientificName: alt.ScientificName,
				CommonNames:    alt.CommonNames,
				Confidence:     alt.Confidence,
				ImageURL:       alt.SimilarImageURL,
			})
		}
	}
	return resp
}
