package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/finargo/corpusbank/rag"
	"github.com/finargo/corpusbank/rag/engine"
	"github.com/finargo/corpusbank/rag/interfaces"
	"github.com/finargo/corpusbank/rag/sources"
	"github.com/finargo/corpusbank/rag/types"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mudler/xlog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sashabaranov/go-openai"
)

const defaultSourceInterval = 1 * time.Hour

// Collection names become state-file and table names, so they stay
// strictly alphanumeric with dashes and underscores.
var collectionNameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

type application struct {
	mu          sync.RWMutex
	collections map[string]*rag.PersistentKB

	config   *Config
	embedder interfaces.Embedder
	reranker interfaces.Reranker
	answerer *rag.AnswerGenerator
	sources  *rag.SourceManager
}

func newApplication(config *Config) *application {
	clientConfig := openai.DefaultConfig(config.OpenAIAPIKey)
	if config.OpenAIBaseURL != "" {
		clientConfig.BaseURL = config.OpenAIBaseURL
	}
	client := openai.NewClientWithConfig(clientConfig)

	var reranker interfaces.Reranker
	if config.RerankBaseURL != "" {
		reranker = engine.NewCrossEncoderReranker(config.RerankBaseURL, config.RerankAPIKey, config.RerankModel)
	} else {
		xlog.Warn("No reranker configured, results keep their fusion order")
	}

	return &application{
		collections: map[string]*rag.PersistentKB{},
		config:      config,
		embedder:    engine.NewOpenAIEmbedder(client, config.EmbeddingModel, config.EmbeddingDimensions),
		reranker:    reranker,
		answerer:    rag.NewAnswerGenerator(client, config.LLMModel),
		sources:     rag.NewSourceManager(&sources.Config{GitPrivateKey: config.GitPrivateKey}),
	}
}

// loadCollections reopens every collection found in the database
// directory and schedules its external sources.
func (app *application) loadCollections(ctx context.Context) error {
	for _, name := range rag.ListAllCollections(app.config.CollectionDBPath) {
		collection, err := app.openCollection(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to open collection %s: %w", name, err)
		}
		app.mu.Lock()
		app.collections[name] = collection
		app.mu.Unlock()
		app.sources.RegisterCollection(name, collection)
		xlog.Info("Loaded collection", "name", name, "documents", len(collection.ListDocuments()))
	}
	return nil
}

func (app *application) openCollection(ctx context.Context, name string) (*rag.PersistentKB, error) {
	assetDir := filepath.Join(app.config.CollectionDBPath, "assets", name)
	opts := app.config.collectionOptions()

	switch app.config.VectorBackend {
	case backendVecstore:
		return rag.NewPersistentVecstoreCollection(ctx, name, app.config.VecstoreURL, app.config.VecstoreAPIKey,
			app.config.CollectionDBPath, assetDir, app.embedder, app.reranker, opts)
	case backendPostgres:
		return rag.NewPersistentPostgresCollection(ctx, name, app.config.DatabaseURL,
			app.config.CollectionDBPath, assetDir, app.embedder, app.reranker, opts)
	default:
		return rag.NewPersistentChromemCollection(ctx, name,
			app.config.CollectionDBPath, assetDir, app.embedder, app.reranker, opts)
	}
}

func (app *application) collection(name string) (*rag.PersistentKB, bool) {
	app.mu.RLock()
	defer app.mu.RUnlock()
	collection, exists := app.collections[name]
	return collection, exists
}

func startAPI(app *application, listenAddress string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	registerStaticHandler(e)
	e.GET("/healthz", healthz)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/api/stats", stats(app))

	e.POST("/api/collections", createCollection(app))
	e.GET("/api/collections", listCollections(app))
	e.POST("/api/collections/:name/upload", uploadFile(app))
	e.GET("/api/collections/:name/entries", listEntries(app))
	e.DELETE("/api/collections/:name/entry", deleteEntry(app))
	e.POST("/api/collections/:name/search", searchCollection(app))
	e.POST("/api/collections/:name/query", queryCollection(app))
	e.POST("/api/collections/:name/reset", resetCollection(app))
	e.POST("/api/collections/:name/sources", addSource(app))
	e.DELETE("/api/collections/:name/sources", removeSource(app))

	return e.Start(listenAddress)
}

func errorMessage(message string) map[string]string {
	return map[string]string{"error": message}
}

func healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func createCollection(app *application) echo.HandlerFunc {
	return func(c echo.Context) error {
		type request struct {
			Name string `json:"name"`
		}

		r := new(request)
		if err := c.Bind(r); err != nil {
			return c.JSON(http.StatusBadRequest, errorMessage("Invalid request"))
		}
		if !collectionNameRe.MatchString(r.Name) {
			return c.JSON(http.StatusBadRequest, errorMessage("Invalid collection name"))
		}

		if _, exists := app.collection(r.Name); exists {
			return c.JSON(http.StatusConflict, errorMessage("Collection already exists"))
		}

		collection, err := app.openCollection(c.Request().Context(), r.Name)
		if err != nil {
			xlog.Error("Failed to create collection", "name", r.Name, "error", err)
			return c.JSON(http.StatusInternalServerError, errorMessage("Failed to create collection"))
		}

		app.mu.Lock()
		app.collections[r.Name] = collection
		app.mu.Unlock()
		app.sources.RegisterCollection(r.Name, collection)

		return c.JSON(http.StatusCreated, map[string]string{"name": r.Name})
	}
}

func listCollections(app *application) echo.HandlerFunc {
	return func(c echo.Context) error {
		app.mu.RLock()
		names := make([]string, 0, len(app.collections))
		for name := range app.collections {
			names = append(names, name)
		}
		app.mu.RUnlock()
		sort.Strings(names)
		return c.JSON(http.StatusOK, names)
	}
}

// uploadFile ingests a multipart file into a collection, replacing any
// previous version of the same document.
func uploadFile(app *application) echo.HandlerFunc {
	return func(c echo.Context) error {
		name := c.Param("name")
		collection, exists := app.collection(name)
		if !exists {
			return c.JSON(http.StatusNotFound, errorMessage("Collection not found"))
		}

		file, err := c.FormFile("file")
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorMessage("Failed to read file: "+err.Error()))
		}

		src, err := file.Open()
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorMessage("Failed to open file: "+err.Error()))
		}
		defer src.Close()

		// Stage under a unique directory so concurrent uploads of the
		// same filename cannot collide before ingestion copies it.
		staging := filepath.Join(os.TempDir(), "corpusbank-"+uuid.NewString())
		if err := os.MkdirAll(staging, 0750); err != nil {
			return c.JSON(http.StatusInternalServerError, errorMessage("Failed to stage file"))
		}
		defer os.RemoveAll(staging)

		stagedPath := filepath.Join(staging, filepath.Base(file.Filename))
		dst, err := os.Create(stagedPath)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, errorMessage("Failed to stage file"))
		}
		if _, err := io.Copy(dst, src); err != nil {
			dst.Close()
			return c.JSON(http.StatusInternalServerError, errorMessage("Failed to stage file"))
		}
		dst.Close()

		if err := collection.StoreOrReplace(c.Request().Context(), stagedPath, map[string]string{"type": "upload"}); err != nil {
			xlog.Error("Failed to ingest file", "collection", name, "file", file.Filename, "error", err)
			return c.JSON(http.StatusInternalServerError, errorMessage("Failed to store file: "+err.Error()))
		}
		documentsIngested.WithLabelValues(name).Inc()

		return c.JSON(http.StatusOK, map[string]any{"files": collection.ListDocuments()})
	}
}

func listEntries(app *application) echo.HandlerFunc {
	return func(c echo.Context) error {
		collection, exists := app.collection(c.Param("name"))
		if !exists {
			return c.JSON(http.StatusNotFound, errorMessage("Collection not found"))
		}
		return c.JSON(http.StatusOK, collection.ListDocuments())
	}
}

func deleteEntry(app *application) echo.HandlerFunc {
	return func(c echo.Context) error {
		collection, exists := app.collection(c.Param("name"))
		if !exists {
			return c.JSON(http.StatusNotFound, errorMessage("Collection not found"))
		}

		type request struct {
			Entry string `json:"entry"`
		}

		r := new(request)
		if err := c.Bind(r); err != nil || r.Entry == "" {
			return c.JSON(http.StatusBadRequest, errorMessage("Invalid request"))
		}

		if err := collection.RemoveEntry(c.Request().Context(), r.Entry); err != nil {
			if strings.Contains(err.Error(), "entry not found") {
				return c.JSON(http.StatusNotFound, errorMessage("Entry not found"))
			}
			xlog.Error("Failed to remove entry", "entry", r.Entry, "error", err)
			return c.JSON(http.StatusInternalServerError, errorMessage("Failed to remove entry"))
		}

		return c.JSON(http.StatusOK, collection.ListDocuments())
	}
}

func searchCollection(app *application) echo.HandlerFunc {
	return func(c echo.Context) error {
		name := c.Param("name")
		collection, exists := app.collection(name)
		if !exists {
			return c.JSON(http.StatusNotFound, errorMessage("Collection not found"))
		}

		type request struct {
			Query string `json:"query"`
			TopK  int    `json:"top_k"`
		}

		r := new(request)
		if err := c.Bind(r); err != nil || r.Query == "" {
			return c.JSON(http.StatusBadRequest, errorMessage("Invalid request"))
		}

		opts := app.config.Retrieval
		if r.TopK > 0 {
			opts.RerankTopN = r.TopK
		}

		start := time.Now()
		results, err := collection.Search(c.Request().Context(), r.Query, opts)
		queryDuration.Observe(time.Since(start).Seconds())
		queriesTotal.WithLabelValues(name, "search").Inc()
		if err != nil {
			xlog.Error("Search failed", "collection", name, "error", err)
			return c.JSON(http.StatusBadGateway, errorMessage("Failed to search collection"))
		}

		if results == nil {
			results = []types.RerankedResult{}
		}
		return c.JSON(http.StatusOK, results)
	}
}

// queryCollection runs retrieval and answers the question with
// citations grounded in the retrieved chunks.
func queryCollection(app *application) echo.HandlerFunc {
	return func(c echo.Context) error {
		name := c.Param("name")
		collection, exists := app.collection(name)
		if !exists {
			return c.JSON(http.StatusNotFound, errorMessage("Collection not found"))
		}

		type request struct {
			Question string `json:"question"`
			TopK     int    `json:"top_k"`
		}

		r := new(request)
		if err := c.Bind(r); err != nil || r.Question == "" {
			return c.JSON(http.StatusBadRequest, errorMessage("Invalid request"))
		}

		opts := app.config.Retrieval
		if r.TopK > 0 {
			opts.RerankTopN = r.TopK
		}

		ctx := c.Request().Context()
		start := time.Now()
		results, err := collection.Search(ctx, r.Question, opts)
		if err != nil {
			queryDuration.Observe(time.Since(start).Seconds())
			queriesTotal.WithLabelValues(name, "question").Inc()
			xlog.Error("Retrieval failed", "collection", name, "error", err)
			return c.JSON(http.StatusBadGateway, errorMessage("Failed to search collection"))
		}

		answer, err := app.answerer.Generate(ctx, r.Question, results)
		queryDuration.Observe(time.Since(start).Seconds())
		queriesTotal.WithLabelValues(name, "question").Inc()
		if err != nil {
			xlog.Error("Answer generation failed", "collection", name, "error", err)
			return c.JSON(http.StatusBadGateway, errorMessage("Failed to generate answer"))
		}

		return c.JSON(http.StatusOK, answer)
	}
}

func resetCollection(app *application) echo.HandlerFunc {
	return func(c echo.Context) error {
		collection, exists := app.collection(c.Param("name"))
		if !exists {
			return c.JSON(http.StatusNotFound, errorMessage("Collection not found"))
		}

		if err := collection.Reset(c.Request().Context()); err != nil {
			xlog.Error("Failed to reset collection", "error", err)
			return c.JSON(http.StatusInternalServerError, errorMessage("Failed to reset collection"))
		}

		return c.JSON(http.StatusOK, map[string]string{"status": "reset"})
	}
}

func addSource(app *application) echo.HandlerFunc {
	return func(c echo.Context) error {
		name := c.Param("name")
		if _, exists := app.collection(name); !exists {
			return c.JSON(http.StatusNotFound, errorMessage("Collection not found"))
		}

		type request struct {
			URL            string `json:"url"`
			UpdateInterval string `json:"update_interval"`
		}

		r := new(request)
		if err := c.Bind(r); err != nil || r.URL == "" {
			return c.JSON(http.StatusBadRequest, errorMessage("Invalid request"))
		}

		interval := defaultSourceInterval
		if r.UpdateInterval != "" {
			parsed, err := time.ParseDuration(r.UpdateInterval)
			if err != nil || parsed <= 0 {
				return c.JSON(http.StatusBadRequest, errorMessage("Invalid update_interval"))
			}
			interval = parsed
		}

		if err := app.sources.AddSource(name, r.URL, interval); err != nil {
			if strings.Contains(err.Error(), "already registered") {
				return c.JSON(http.StatusConflict, errorMessage("Source already registered"))
			}
			xlog.Error("Failed to add source", "collection", name, "url", r.URL, "error", err)
			return c.JSON(http.StatusInternalServerError, errorMessage("Failed to add source"))
		}

		return c.JSON(http.StatusCreated, map[string]string{"url": r.URL, "update_interval": interval.String()})
	}
}

func removeSource(app *application) echo.HandlerFunc {
	return func(c echo.Context) error {
		name := c.Param("name")
		if _, exists := app.collection(name); !exists {
			return c.JSON(http.StatusNotFound, errorMessage("Collection not found"))
		}

		type request struct {
			URL string `json:"url"`
		}

		r := new(request)
		if err := c.Bind(r); err != nil || r.URL == "" {
			return c.JSON(http.StatusBadRequest, errorMessage("Invalid request"))
		}

		if err := app.sources.RemoveSource(c.Request().Context(), name, r.URL); err != nil {
			if strings.Contains(err.Error(), "not registered") {
				return c.JSON(http.StatusNotFound, errorMessage("Source not registered"))
			}
			xlog.Error("Failed to remove source", "collection", name, "url", r.URL, "error", err)
			return c.JSON(http.StatusInternalServerError, errorMessage("Failed to remove source"))
		}

		return c.JSON(http.StatusOK, map[string]string{"status": "removed"})
	}
}

func stats(app *application) echo.HandlerFunc {
	return func(c echo.Context) error {
		type collectionStats struct {
			Documents int `json:"documents"`
			Chunks    int `json:"chunks"`
			Terms     int `json:"terms"`
			Sources   int `json:"sources"`
		}

		app.mu.RLock()
		perCollection := make(map[string]collectionStats, len(app.collections))
		var documents, chunks int
		for name, collection := range app.collections {
			s := collectionStats{
				Documents: len(collection.ListDocuments()),
				Chunks:    collection.Count(),
				Terms:     collection.Terms(),
				Sources:   len(collection.GetExternalSources()),
			}
			perCollection[name] = s
			documents += s.Documents
			chunks += s.Chunks
		}
		app.mu.RUnlock()

		return c.JSON(http.StatusOK, map[string]any{
			"collections":    len(perCollection),
			"documents":      documents,
			"chunks":         chunks,
			"per_collection": perCollection,
		})
	}
}
