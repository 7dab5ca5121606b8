package casino

import (
	"encoding/json"
	"fmt"

	"github.com/coocood/freecache"
	log "github.com/sirupsen/logrus"
)

const (
	// 10 MB is plenty for serialized listing pages
	listingCacheSize      = 10 * 1024 * 1024
	listingCacheTTLSeconds = 60
)

// ListingCache keeps serialized listing pages in process memory, so the
// public listing endpoint does not hit postgres on every page view. All
// entries go away on any casino write, correctness beats cleverness here.
type ListingCache struct {
	cache *freecache.Cache
}

func NewListingCache() *ListingCache {
	return &ListingCache{
		cache: freecache.NewCache(listingCacheSize),
	}
}

func listingCacheKey(params ListParams) []byte {
	return []byte(fmt.Sprintf(
		"listing::%d::%d::%s::%.2f::%t::%t",
		params.Page, params.Size, params.Query,
		params.MinRating, params.FeaturedOnly, params.IncludeUnpublished,
	))
}

func (lc *ListingCache) Get(params ListParams) *ListResponse {
	cachedBytes, err := lc.cache.Get(listingCacheKey(params))
	if err != nil {
		// freecache.ErrNotFound, mostly
		return nil
	}

	listResponse := &ListResponse{}
	if err := json.Unmarshal(cachedBytes, listResponse); err != nil {
		log.Errorf("listing cache, failed to unmarshal cached page: %s", err)
		return nil
	}
	return listResponse
}

func (lc *ListingCache) Set(params ListParams, listResponse *ListResponse) {
	respBytes, err := json.Marshal(listResponse)
	if err != nil {
		log.Errorf("listing cache, failed to marshal page: %s", err)
		return
	}
	if err := lc.cache.Set(listingCacheKey(params), respBytes, listingCacheTTLSeconds); err != nil {
		log.Errorf("listing cache, failed to set page: %s", err)
	}
}

// InvalidateAll drops every cached page, called on casino mutations
func (lc *ListingCache) InvalidateAll() {
	lc.cache.Clear()
}
