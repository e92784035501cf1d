package database

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/photo-curator/internal/curation"
	"github.com/kozaktomas/photo-curator/internal/fingerprint"
)

// HNSWIndexMetadata stores metadata for validating cached HNSW indexes.
type HNSWIndexMetadata struct {
	PhotoCount int64     `json:"photo_count"`
	MaxPhotoID int64     `json:"max_photo_id"`
	BuildTime  time.Time `json:"build_time"`
	Version    int       `json:"version"`
}

const hnswMetadataVersion = 1

// ErrIndexEmpty is returned when searching an index with no graph loaded.
var ErrIndexEmpty = errors.New("index not initialized")

// HNSWIndex wraps the HNSW graph for photo embedding search, keyed by photo id.
type HNSWIndex struct {
	graph     *hnsw.Graph[int64]
	idToPhoto map[int64]*curation.Photo
	mu        sync.RWMutex
}

// NewHNSWIndex creates a new empty HNSW index.
func NewHNSWIndex() *HNSWIndex {
	return &HNSWIndex{
		idToPhoto: make(map[int64]*curation.Photo),
	}
}

func newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors)
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.CosineDistance
	return g
}

// Build replaces the index contents with photos. Photos without an
// embedding are skipped.
func (h *HNSWIndex) Build(photos []*curation.Photo) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.graph = nil
	h.idToPhoto = make(map[int64]*curation.Photo, len(photos))
	if len(photos) == 0 {
		return
	}

	g := newGraph()
	for _, p := range photos {
		if len(p.Embedding) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(p.ID, p.Embedding))
		h.idToPhoto[p.ID] = p
	}
	h.graph = g
}

// Add inserts or replaces a single photo.
func (h *HNSWIndex) Add(photo *curation.Photo) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(photo.Embedding) == 0 {
		return
	}
	if h.graph == nil {
		h.graph = newGraph()
	}
	// Add replaces a node with the same key.
	h.graph.Add(hnsw.MakeNode(photo.ID, photo.Embedding))
	h.idToPhoto[photo.ID] = photo
}

// Search returns up to k photos nearest to query, closest first.
func (h *HNSWIndex) Search(query []float32, k int) ([]SimilarPhoto, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil {
		return nil, ErrIndexEmpty
	}

	neighbors := h.graph.Search(query, k)
	results := make([]SimilarPhoto, 0, len(neighbors))
	for _, n := range neighbors {
		photo, ok := h.idToPhoto[n.Key]
		if !ok {
			continue
		}
		results = append(results, SimilarPhoto{Photo: photo, Distance: cosineDistance(query, n.Value)})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	return results, nil
}

// cosineDistance is 1 - cosine similarity; degenerate pairs get the maximum of 2.
func cosineDistance(a, b []float32) float64 {
	sim, err := fingerprint.CosineSimilarity(a, b)
	if err != nil {
		return 2
	}
	return 1 - sim
}

// Get returns the indexed photo for id.
func (h *HNSWIndex) Get(id int64) *curation.Photo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.idToPhoto[id]
}

// Count returns the number of indexed photos.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.idToPhoto)
}

// Metadata describes the current contents for staleness checks.
func (h *HNSWIndex) Metadata() HNSWIndexMetadata {
	h.mu.RLock()
	defer h.mu.RUnlock()

	meta := HNSWIndexMetadata{PhotoCount: int64(len(h.idToPhoto)), BuildTime: time.Now()}
	for id := range h.idToPhoto {
		meta.MaxPhotoID = max(meta.MaxPhotoID, id)
	}
	return meta
}

// Save persists the graph, a .meta file and a .photos file next to path.
func (h *HNSWIndex) Save(path string, metadata HNSWIndexMetadata) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil {
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		_ = os.Remove(path + ".photos")
		return nil
	}

	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	if err := h.graph.Export(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to export HNSW graph: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close HNSW index file: %w", err)
	}

	metadata.Version = hnswMetadataVersion
	metaData, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", metaData, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	photos := make([]curation.Photo, 0, len(h.idToPhoto))
	for _, p := range h.idToPhoto {
		photos = append(photos, *p)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(photos); err != nil {
		return fmt.Errorf("failed to encode photos: %w", err)
	}
	if err := os.WriteFile(path+".photos", buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write photos file: %w", err)
	}
	return nil
}

// LoadHNSWMetadata loads metadata from a separate .meta file.
func LoadHNSWMetadata(path string) (HNSWIndexMetadata, error) {
	var metadata HNSWIndexMetadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return metadata, nil
}

// Load reads a graph and its photos written by Save.
func (h *HNSWIndex) Load(path string) error {
	saved, err := hnsw.LoadSavedGraph[int64](path)
	if err != nil {
		return fmt.Errorf("failed to load HNSW index: %w", err)
	}

	data, err := os.ReadFile(path + ".photos") //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to read photos file: %w", err)
	}
	var photos []curation.Photo
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&photos); err != nil {
		return fmt.Errorf("failed to decode photos: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.graph = saved.Graph
	h.graph.Distance = hnsw.CosineDistance
	h.idToPhoto = make(map[int64]*curation.Photo, len(photos))
	for i := range photos {
		h.idToPhoto[photos[i].ID] = &photos[i]
	}
	return nil
}
