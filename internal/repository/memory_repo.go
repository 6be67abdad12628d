package repository

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

const defaultVectorDimension = 1024

// MemoryConnectionConfig holds the qdrant connection settings.
type MemoryConnectionConfig struct {
	Host            string
	Port            int
	Collection      string
	APIKey          string // enables TLS
	UseTLS          bool
	VectorDimension int
}

func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// MemoryRepository stores translation memory pairs as vectors in qdrant.
type MemoryRepository struct {
	conn            *grpc.ClientConn
	pointsClient    pb.PointsClient
	collectClient   pb.CollectionsClient
	collectionName  string
	vectorDimension int
}

// NewMemoryRepository connects to qdrant. Local instances use an insecure
// channel; an API key or UseTLS switches to TLS.
func NewMemoryRepository(cfg *MemoryConnectionConfig) (*MemoryRepository, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	dim := cfg.VectorDimension
	if dim <= 0 {
		dim = defaultVectorDimension
	}

	var opts []grpc.DialOption
	if cfg.UseTLS || cfg.APIKey != "" {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS13})))
		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &MemoryRepository{
		conn:            conn,
		pointsClient:    pb.NewPointsClient(conn),
		collectClient:   pb.NewCollectionsClient(conn),
		collectionName:  cfg.Collection,
		vectorDimension: dim,
	}, nil
}

// Close closes the gRPC connection.
func (r *MemoryRepository) Close() error {
	return r.conn.Close()
}

// EnsureCollection creates the collection when it is missing and checks the
// vector size when it exists.
func (r *MemoryRepository) EnsureCollection(ctx context.Context) error {
	info, err := r.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: r.collectionName})
	if err == nil {
		if size := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize(); size > 0 && size != uint64(r.vectorDimension) {
			return fmt.Errorf("collection %s has vector size %d, expected %d", r.collectionName, size, r.vectorDimension)
		}
		return nil
	}

	_, err = r.collectClient.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collectionName,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(r.vectorDimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// MemoryPayload is stored with every translation memory vector.
type MemoryPayload struct {
	UnitID         string
	DocumentID     string
	TenantID       string
	ProjectID      string
	Source         string
	Target         string
	SourceLanguage string
	TargetLanguage string
}

// MemoryFilter narrows a search. Empty fields are ignored.
type MemoryFilter struct {
	TenantID       string
	TargetLanguage string
	ExcludeUnitID  string
}

// MemoryMatch is one scored search hit.
type MemoryMatch struct {
	ID      string
	Score   float32
	Payload MemoryPayload
}

// Upsert stores one pair under pointID, which must be a UUID. Writing the
// same id again replaces the pair.
func (r *MemoryRepository) Upsert(ctx context.Context, pointID string, vector []float32, p MemoryPayload) error {
	uid, err := uuid.Parse(pointID)
	if err != nil {
		return fmt.Errorf("invalid point ID: %w", err)
	}

	_, err = r.pointsClient.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collectionName,
		Points: []*pb.PointStruct{{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: uid.String()}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vector}},
			},
			Payload: map[string]*pb.Value{
				"unit_id":         stringValue(p.UnitID),
				"document_id":     stringValue(p.DocumentID),
				"tenant_id":       stringValue(p.TenantID),
				"project_id":      stringValue(p.ProjectID),
				"source":          stringValue(p.Source),
				"target":          stringValue(p.Target),
				"source_language": stringValue(p.SourceLanguage),
				"target_language": stringValue(p.TargetLanguage),
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point: %w", err)
	}
	return nil
}

// Search returns up to limit pairs scoring at least minScore.
func (r *MemoryRepository) Search(ctx context.Context, vector []float32, limit int, minScore float32, f MemoryFilter) ([]MemoryMatch, error) {
	req := &pb.SearchPoints{
		CollectionName: r.collectionName,
		Vector:         vector,
		Limit:          uint64(limit),
		ScoreThreshold: &minScore,
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
		Filter: buildMemoryFilter(f),
	}

	resp, err := r.pointsClient.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	out := make([]MemoryMatch, 0, len(resp.GetResult()))
	for _, scored := range resp.GetResult() {
		out = append(out, MemoryMatch{
			ID:      scored.GetId().GetUuid(),
			Score:   scored.GetScore(),
			Payload: parseMemoryPayload(scored.GetPayload()),
		})
	}
	return out, nil
}

func buildMemoryFilter(f MemoryFilter) *pb.Filter {
	var must, mustNot []*pb.Condition
	if f.TenantID != "" {
		must = append(must, keywordCondition("tenant_id", f.TenantID))
	}
	if f.TargetLanguage != "" {
		must = append(must, keywordCondition("target_language", f.TargetLanguage))
	}
	if f.ExcludeUnitID != "" {
		mustNot = append(mustNot, keywordCondition("unit_id", f.ExcludeUnitID))
	}
	if len(must) == 0 && len(mustNot) == 0 {
		return nil
	}
	return &pb.Filter{Must: must, MustNot: mustNot}
}

func keywordCondition(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func parseMemoryPayload(payload map[string]*pb.Value) MemoryPayload {
	get := func(k string) string {
		if v, ok := payload[k]; ok {
			return v.GetStringValue()
		}
		return ""
	}
	return MemoryPayload{
		UnitID:         get("unit_id"),
		DocumentID:     get("document_id"),
		TenantID:       get("tenant_id"),
		ProjectID:      get("project_id"),
		Source:         get("source"),
		Target:         get("target"),
		SourceLanguage: get("source_language"),
		TargetLanguage: get("target_language"),
	}
}
