package dbclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"recordgrid/internal/domain"
	"recordgrid/internal/logger"
)

// mongoSampleSize is how many documents ListFields inspects per collection.
const mongoSampleSize = 20

// mongoConnector implements Connector for MongoDB. Collections are objects
// and the hex form of _id is the row Id.
type mongoConnector struct {
	client *mongo.Client
	dbName string
	log    *logrus.Entry
}

func newMongoConnector(conn *domain.DatabaseConnection, password string) (*mongoConnector, error) {
	uri, dbName := buildMongoURI(conn, password)
	log := logger.Log.WithFields(logrus.Fields{"driver": "mongodb", "database": dbName})

	logURI := uri
	if password != "" {
		logURI = strings.ReplaceAll(logURI, password, "***")
	}
	log.Debugf("connecting with URI %s", logURI)

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		log.Errorf("connect failed: %v", err)
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	return &mongoConnector{client: client, dbName: dbName, log: log}, nil
}

// buildMongoURI returns the connection URI and the database to use. A host
// that already is a mongodb:// or mongodb+srv:// URI is used as given, with
// <password> placeholders filled in.
func buildMongoURI(conn *domain.DatabaseConnection, password string) (string, string) {
	var uri string
	if strings.HasPrefix(conn.Host, "mongodb+srv://") || strings.HasPrefix(conn.Host, "mongodb://") {
		uri = conn.Host
		if password != "" {
			uri = strings.ReplaceAll(uri, "<password>", password)
			uri = strings.ReplaceAll(uri, "<db_password>", password)
		}
		if conn.Database != "" && !strings.Contains(uri, "/"+conn.Database) {
			if idx := strings.Index(uri, "?"); idx != -1 {
				uri = strings.TrimRight(uri[:idx], "/") + "/" + conn.Database + uri[idx:]
			} else {
				uri = strings.TrimRight(uri, "/") + "/" + conn.Database
			}
		}
	} else {
		port := conn.Port
		if port == 0 {
			port = 27017
		}
		if conn.Username != "" {
			uri = fmt.Sprintf("mongodb://%s:%s@%s:%d", conn.Username, password, conn.Host, port)
		} else {
			uri = fmt.Sprintf("mongodb://%s:%d", conn.Host, port)
		}
		if conn.ExtraJSON != "" && conn.ExtraJSON != "{}" {
			var extras map[string]string
			if json.Unmarshal([]byte(conn.ExtraJSON), &extras) == nil && len(extras) > 0 {
				keys := make([]string, 0, len(extras))
				for k := range extras {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				params := make([]string, 0, len(keys))
				for _, k := range keys {
					params = append(params, k+"="+extras[k])
				}
				uri += "/?" + strings.Join(params, "&")
			}
		}
	}

	dbName := conn.Database
	if dbName == "" {
		dbName = databaseFromURI(uri)
	}
	if dbName == "" {
		dbName = "test"
	}
	return uri, dbName
}

// databaseFromURI extracts the path segment of user:pass@host/DB?params.
func databaseFromURI(uri string) string {
	rest := uri
	for _, prefix := range []string{"mongodb+srv://", "mongodb://"} {
		rest = strings.TrimPrefix(rest, prefix)
	}
	if at := strings.LastIndex(rest, "@"); at != -1 {
		rest = rest[at+1:]
	}
	slash := strings.Index(rest, "/")
	if slash == -1 {
		return ""
	}
	path := rest[slash+1:]
	if q := strings.Index(path, "?"); q != -1 {
		path = path[:q]
	}
	return path
}

// parseObjectID parses an ObjectID from either raw hex "67b8f1..."
// or the wrapped format ObjectID("67b8f1...").
func parseObjectID(s string) (bson.ObjectID, error) {
	if oid, err := bson.ObjectIDFromHex(s); err == nil {
		return oid, nil
	}
	if strings.HasPrefix(s, "ObjectID(\"") && strings.HasSuffix(s, "\")") {
		hex := s[len("ObjectID(\"") : len(s)-len("\")")]
		return bson.ObjectIDFromHex(hex)
	}
	return bson.ObjectID{}, fmt.Errorf("invalid ObjectID: %s", s)
}

func (m *mongoConnector) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return m.client.Ping(ctx, nil)
}

func (m *mongoConnector) ListObjects(ctx context.Context) ([]domain.ObjectDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	names, err := m.client.Database(m.dbName).ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	sort.Strings(names)
	objs := make([]domain.ObjectDescriptor, 0, len(names))
	for _, n := range names {
		objs = append(objs, domain.ObjectDescriptor{ID: n, Label: n})
	}
	return objs, nil
}

// ListFields samples documents and unions their top-level keys. The first
// non-null value seen for a key decides its type.
func (m *mongoConnector) ListFields(ctx context.Context, objectID string) ([]domain.FieldDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	db := m.client.Database(m.dbName)
	names, err := db.ListCollectionNames(ctx, bson.M{"name": objectID})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no such collection: %s", objectID)
	}

	cursor, err := db.Collection(objectID).Find(ctx, bson.M{}, options.Find().SetLimit(mongoSampleSize))
	if err != nil {
		return nil, fmt.Errorf("sample: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []bson.D
	for cursor.Next(ctx) {
		var doc bson.D
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor: %w", err)
	}
	return fieldsFromDocs(docs), nil
}

// fieldsFromDocs derives field descriptors from sampled documents: _id
// first, then keys in first-seen order.
func fieldsFromDocs(docs []bson.D) []domain.FieldDescriptor {
	types := map[string]string{}
	var order []string
	for _, doc := range docs {
		for _, elem := range doc {
			t, seen := types[elem.Key]
			if !seen {
				order = append(order, elem.Key)
			}
			if t == "" {
				types[elem.Key] = mongoFieldType(elem.Key, elem.Value)
			}
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return order[i] == "_id" && order[j] != "_id"
	})

	fields := make([]domain.FieldDescriptor, 0, len(order))
	for _, key := range order {
		f := domain.FieldDescriptor{Name: key, Label: key, DataType: types[key]}
		if f.DataType == "" {
			f.DataType = "string"
		}
		if key == "_id" {
			f.Updatable = domain.BoolPtr(false)
		}
		fields = append(fields, f)
	}
	return fields
}

// mongoFieldType maps a BSON value to the field type vocabulary. Null
// values return "" so a later document can decide.
func mongoFieldType(key string, v any) string {
	switch v.(type) {
	case nil:
		return ""
	case bson.ObjectID:
		if key == "_id" {
			return "id"
		}
		return "reference"
	case string:
		return "string"
	case int32, int64, int:
		return "integer"
	case float64, bson.Decimal128:
		return "double"
	case bool:
		return "boolean"
	case bson.DateTime, time.Time:
		return "datetime"
	case bson.Binary:
		return "base64"
	case bson.D, bson.M, bson.A, []any, map[string]any:
		return "json"
	default:
		return "string"
	}
}

func (m *mongoConnector) FetchRecords(ctx context.Context, objectID string, fieldNames []string, maxCount int) ([]domain.Row, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if maxCount <= 0 {
		maxCount = 2000
	}
	projection := bson.D{{Key: "_id", Value: 1}}
	for _, f := range fieldNames {
		if f != "_id" && f != domain.IDField {
			projection = append(projection, bson.E{Key: f, Value: 1})
		}
	}
	opts := options.Find().
		SetProjection(projection).
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(maxCount)).
		SetBatchSize(int32(min(maxCount, 500)))

	cursor, err := m.client.Database(m.dbName).Collection(objectID).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []domain.Row
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		rows = append(rows, rowFromDoc(doc, fieldNames))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor: %w", err)
	}
	m.log.WithField("collection", objectID).Debugf("fetched %d documents", len(rows))
	return rows, nil
}

func rowFromDoc(doc bson.M, fieldNames []string) domain.Row {
	row := make(domain.Row, len(fieldNames)+1)
	row[domain.IDField] = scalarString(normalizeBSON(doc["_id"]))
	for _, f := range fieldNames {
		if f == domain.IDField {
			continue
		}
		row[f] = normalizeBSON(doc[f])
	}
	return row
}

// normalizeBSON converts driver types into JSON-friendly primitives.
// Nested documents and arrays become relaxed Extended JSON text.
func normalizeBSON(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case bson.ObjectID:
		return val.Hex()
	case bson.DateTime:
		return val.Time().UTC().Format(time.RFC3339)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case bson.Decimal128:
		return val.String()
	case int32:
		return int64(val)
	case bson.Binary:
		return fmt.Sprintf("<binary %d bytes>", len(val.Data))
	case bson.D, bson.M, bson.A:
		data, err := bson.MarshalExtJSON(bson.M{"v": val}, false, false)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		var wrapped struct {
			V json.RawMessage `json:"v"`
		}
		if json.Unmarshal(data, &wrapped) != nil {
			return string(data)
		}
		return string(wrapped.V)
	default:
		return val
	}
}

func (m *mongoConnector) ApplyUpdates(ctx context.Context, objectID string, batch []domain.RowEdit) ([]domain.RowResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if m.client == nil {
		return nil, errors.New("mongo client is closed")
	}
	coll := m.client.Database(m.dbName).Collection(objectID)

	results := make([]domain.RowResult, 0, len(batch))
	for _, edit := range batch {
		res := domain.RowResult{RowID: edit.RowID}
		if err := m.applyUpdate(ctx, coll, edit); err != nil {
			res.Error = err.Error()
		} else {
			res.Succeeded = true
		}
		results = append(results, res)
	}
	return results, nil
}

func (m *mongoConnector) applyUpdate(ctx context.Context, coll *mongo.Collection, edit domain.RowEdit) error {
	if len(edit.Changes) == 0 {
		return nil
	}
	setDoc := bson.M{}
	for k, v := range edit.Changes {
		if k == "_id" || k == domain.IDField {
			return fmt.Errorf("field %s is read-only", k)
		}
		setDoc[k] = v
	}

	filter := bson.M{"_id": edit.RowID}
	if oid, err := parseObjectID(edit.RowID); err == nil {
		filter["_id"] = oid
	}

	res, err := coll.UpdateOne(ctx, filter, bson.M{"$set": setDoc})
	if err != nil {
		return err
	}
	m.log.Debugf("UpdateOne %s: matched=%d modified=%d", edit.RowID, res.MatchedCount, res.ModifiedCount)
	if res.MatchedCount == 0 {
		return errors.New("record not found")
	}
	return nil
}

func (m *mongoConnector) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
