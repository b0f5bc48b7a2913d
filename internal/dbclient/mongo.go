package dbclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"pagebuilder/internal/domain"
)

// mongoConnector implements Connector for MongoDB.
type mongoConnector struct {
	client *mongo.Client
	dbName string
}

// mongoQuery is the JSON a binding writes for a MongoDB collection.
type mongoQuery struct {
	Collection string         `json:"collection"`
	Operation  string         `json:"operation,omitempty"` // find (default) or aggregate
	Filter     map[string]any `json:"filter,omitempty"`
	Projection map[string]any `json:"projection,omitempty"`
	Sort       map[string]any `json:"sort,omitempty"`
	Pipeline   []any          `json:"pipeline,omitempty"`
}

// parseMongoQuery decodes q, resolving Extended JSON ($oid, $date, ...) in
// the document-valued fields.
func parseMongoQuery(q string) (mongoQuery, error) {
	var mq mongoQuery
	if err := json.Unmarshal([]byte(q), &mq); err != nil {
		return mq, fmt.Errorf("invalid query JSON: %w", err)
	}
	if mq.Collection == "" {
		return mq, fmt.Errorf("query must specify 'collection'")
	}
	switch mq.Operation {
	case "":
		mq.Operation = "find"
	case "find", "aggregate":
	default:
		return mq, fmt.Errorf("%w: mongo operation %q", ErrWriteQuery, mq.Operation)
	}
	mq.Filter = unmarshalEJSON(mq.Filter)
	mq.Projection = unmarshalEJSON(mq.Projection)
	mq.Sort = unmarshalEJSON(mq.Sort)
	return mq, nil
}

// buildMongoURI returns the connection URI for conn. A Host that already is
// a mongodb:// or mongodb+srv:// URI is used as is, with the password
// placeholder filled in.
func buildMongoURI(conn *domain.DataConnection, password string) string {
	if strings.HasPrefix(conn.Host, "mongodb+srv://") || strings.HasPrefix(conn.Host, "mongodb://") {
		uri := conn.Host
		if password != "" {
			uri = strings.ReplaceAll(uri, "<password>", url.QueryEscape(password))
			uri = strings.ReplaceAll(uri, "<db_password>", url.QueryEscape(password))
		}
		return uri
	}

	port := conn.Port
	if port == 0 {
		port = 27017
	}
	u := url.URL{Scheme: "mongodb", Host: fmt.Sprintf("%s:%d", conn.Host, port)}
	if conn.Username != "" {
		u.User = url.UserPassword(conn.Username, password)
	}
	// extraJSON carries authSource, replicaSet and friends
	if conn.ExtraJSON != "" && conn.ExtraJSON != "{}" {
		var extras map[string]string
		if json.Unmarshal([]byte(conn.ExtraJSON), &extras) == nil && len(extras) > 0 {
			q := url.Values{}
			for k, v := range extras {
				q.Set(k, v)
			}
			u.RawQuery = q.Encode()
		}
	}
	return u.String()
}

// mongoDatabaseName picks the database: the connection's, else the URI
// path, else "test".
func mongoDatabaseName(conn *domain.DataConnection, uri string) string {
	if conn.Database != "" {
		return conn.Database
	}
	if u, err := url.Parse(uri); err == nil {
		if name := strings.Trim(u.Path, "/"); name != "" {
			return name
		}
	}
	return "test"
}

func newMongoConnector(conn *domain.DataConnection, password string) (*mongoConnector, error) {
	uri := buildMongoURI(conn, password)
	dbName := mongoDatabaseName(conn, uri)

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	log.Printf("[MONGO] client ready for database %s", dbName)
	return &mongoConnector{client: client, dbName: dbName}, nil
}

// unmarshalEJSON re-encodes field and decodes it as relaxed Extended JSON.
func unmarshalEJSON(field map[string]any) map[string]any {
	if field == nil {
		return nil
	}
	raw, err := json.Marshal(field)
	if err != nil {
		return field
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON(raw, false, &doc); err != nil {
		log.Printf("[MONGO] EJSON parse warning: %v", err)
		return field
	}
	result := make(map[string]any, len(doc))
	for _, elem := range doc {
		result[elem.Key] = elem.Value
	}
	return result
}

func (m *mongoConnector) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return m.client.Ping(ctx, nil)
}

func (m *mongoConnector) Query(ctx context.Context, query string, limit int) (*Rows, error) {
	mq, err := parseMongoQuery(query)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	coll := m.client.Database(m.dbName).Collection(mq.Collection)
	var cursor *mongo.Cursor
	switch mq.Operation {
	case "aggregate":
		pipeline := mq.Pipeline
		if pipeline == nil {
			pipeline = []any{}
		}
		cursor, err = coll.Aggregate(ctx, pipeline)
	default:
		opts := options.Find().SetLimit(int64(limit + 1))
		if mq.Projection != nil {
			opts.SetProjection(mq.Projection)
		}
		if mq.Sort != nil {
			opts.SetSort(mq.Sort)
		}
		filter := mq.Filter
		if filter == nil {
			filter = map[string]any{}
		}
		cursor, err = coll.Find(ctx, filter, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", mq.Operation, err)
	}
	defer cursor.Close(ctx)

	var docs []bson.D
	truncated := false
	for cursor.Next(ctx) {
		if len(docs) == limit {
			truncated = true
			break
		}
		var doc bson.D
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}

	rows := docsToRows(docs)
	rows.Truncated = truncated
	return rows, nil
}

// docsToRows flattens documents into a table: _id first, then the other
// keys alphabetically. ObjectIDs become their hex string.
func docsToRows(docs []bson.D) *Rows {
	colSet := map[string]bool{}
	var columns []string
	for _, doc := range docs {
		for _, elem := range doc {
			if !colSet[elem.Key] {
				colSet[elem.Key] = true
				columns = append(columns, elem.Key)
			}
		}
	}
	sort.SliceStable(columns, func(i, j int) bool {
		if columns[i] == "_id" {
			return columns[j] != "_id"
		}
		if columns[j] == "_id" {
			return false
		}
		return columns[i] < columns[j]
	})

	out := &Rows{Columns: columns, Rows: make([][]any, 0, len(docs))}
	for _, doc := range docs {
		row := make([]any, len(columns))
		docMap := make(map[string]any, len(doc))
		for _, elem := range doc {
			docMap[elem.Key] = elem.Value
		}
		for j, col := range columns {
			v, ok := docMap[col]
			if !ok {
				continue
			}
			switch val := v.(type) {
			case bson.ObjectID:
				row[j] = val.Hex()
			case bson.DateTime:
				row[j] = val.Time().UTC().Format(time.RFC3339)
			case string, bool, int32, int64, float64, nil:
				row[j] = val
			default:
				row[j] = fmt.Sprintf("%v", val)
			}
		}
		out.Rows = append(out.Rows, row)
	}
	return out
}

func (m *mongoConnector) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
