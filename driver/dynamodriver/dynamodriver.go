// Package dynamodriver binds the store driver contract to DynamoDB.
//
// Each collection maps to one table whose partition key is the "id" string
// attribute. Filters are served by scanning with a filter expression, so
// this adapter suits small collections and tooling rather than hot paths.
// Only the equality and $exists operators translate to DynamoDB; $regex,
// $near and $elemMatch report ErrUnsupportedFilter. The array mutations
// ($push, $addToSet, $pull) are served read-modify-write, last write wins.
package dynamodriver

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/inkbound/vellum/document"
	"github.com/inkbound/vellum/driver"
)

// Config holds adapter configuration.
type Config struct {
	// TablePrefix is prepended to collection names to form table names.
	// Default: "vellum_"
	TablePrefix string
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.TablePrefix == "" {
		c.TablePrefix = "vellum_"
	}
}

// Store adapts a DynamoDB client to driver.Store.
type Store struct {
	client *dynamodb.Client
	config Config
}

// New wraps a DynamoDB client.
func New(client *dynamodb.Client, config Config) *Store {
	config.validate()
	return &Store{client: client, config: config}
}

// NewFromDefaultConfig builds a client from the ambient AWS configuration.
func NewFromDefaultConfig(ctx context.Context, config Config) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return New(dynamodb.NewFromConfig(awsCfg), config), nil
}

func (s *Store) tableName(collection string) string {
	return s.config.TablePrefix + collection
}

// Insert implements driver.Store.
func (s *Store) Insert(ctx context.Context, collection string, doc bson.D) error {
	if _, ok := document.ID(doc); !ok {
		return fmt.Errorf("%w: insert wants an id attribute", driver.ErrUnsupportedFilter)
	}
	item, err := marshalDoc(doc)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName(collection)),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return driver.ErrDuplicateID
	}
	return err
}

// FindOne implements driver.Store. An id-equality filter is served by a key
// lookup; anything else falls back to a scan.
func (s *Store) FindOne(ctx context.Context, collection string, filter bson.D) (bson.D, error) {
	if id, ok := idEquality(filter); ok && len(filter) == 1 {
		result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: aws.String(s.tableName(collection)),
			Key:       idKey(id),
		})
		if err != nil {
			return nil, err
		}
		if result.Item == nil {
			return nil, driver.ErrNotFound
		}
		return unmarshalItem(result.Item)
	}

	docs, err := s.FindMany(ctx, collection, filter)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, driver.ErrNotFound
	}
	return docs[0], nil
}

// FindMany implements driver.Store.
func (s *Store) FindMany(ctx context.Context, collection string, filter bson.D) ([]bson.D, error) {
	input, err := s.scanInput(collection, filter)
	if err != nil {
		return nil, err
	}

	var docs []bson.D
	paginator := dynamodb.NewScanPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			doc, err := unmarshalItem(item)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// UpdateOne implements driver.Store. $set and $unset translate to an
// update expression; the array mutations have no single-expression
// DynamoDB equivalent, so they are resolved against the current item
// first. The read-modify-write is not atomic; concurrent writers race,
// consistent with the no-locking model of the layer above.
func (s *Store) UpdateOne(ctx context.Context, collection string, filter, mutation bson.D) error {
	id, err := s.resolveID(ctx, collection, filter)
	if err != nil {
		if errors.Is(err, driver.ErrNotFound) {
			return nil
		}
		return err
	}

	mutation, err = s.resolveListOps(ctx, collection, id, mutation)
	if err != nil {
		return err
	}

	expr, names, values, err := updateExpression(mutation)
	if err != nil {
		return err
	}

	input := &dynamodb.UpdateItemInput{
		TableName:                aws.String(s.tableName(collection)),
		Key:                      idKey(id),
		UpdateExpression:         aws.String(expr),
		ExpressionAttributeNames: names,
	}
	if len(values) > 0 {
		input.ExpressionAttributeValues = values
	}
	_, err = s.client.UpdateItem(ctx, input)
	return err
}

// DeleteOne implements driver.Store.
func (s *Store) DeleteOne(ctx context.Context, collection string, filter bson.D) error {
	id, err := s.resolveID(ctx, collection, filter)
	if err != nil {
		if errors.Is(err, driver.ErrNotFound) {
			return nil
		}
		return err
	}
	_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName(collection)),
		Key:       idKey(id),
	})
	return err
}

// DeleteMany implements driver.Store.
func (s *Store) DeleteMany(ctx context.Context, collection string, filter bson.D) (int64, error) {
	docs, err := s.FindMany(ctx, collection, filter)
	if err != nil {
		return 0, err
	}
	var removed int64
	for _, doc := range docs {
		id, ok := document.ID(doc)
		if !ok {
			continue
		}
		_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.tableName(collection)),
			Key:       idKey(id),
		})
		if err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Count implements driver.Store.
func (s *Store) Count(ctx context.Context, collection string, filter bson.D) (int64, error) {
	input, err := s.scanInput(collection, filter)
	if err != nil {
		return 0, err
	}
	input.Select = types.SelectCount

	var n int64
	paginator := dynamodb.NewScanPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, err
		}
		n += int64(page.Count)
	}
	return n, nil
}

// CreateIndex implements driver.Store. The id key is inherently unique;
// ordered secondary indexes are table infrastructure managed out of band,
// so they are accepted as no-ops. Spatial indexes cannot be served.
func (s *Store) CreateIndex(_ context.Context, _ string, spec driver.IndexSpec) error {
	for _, e := range spec.Keys {
		if e.Value == "2d" {
			return fmt.Errorf("%w: spatial index on %s", driver.ErrUnsupportedIndex, e.Key)
		}
	}
	return nil
}

// resolveListOps rewrites $push, $addToSet and $pull into $set of the
// resulting list, computed against the current item.
func (s *Store) resolveListOps(ctx context.Context, collection, id string, mutation bson.D) (bson.D, error) {
	needsRead := false
	for _, op := range mutation {
		switch op.Key {
		case "$push", "$addToSet", "$pull":
			needsRead = true
		}
	}
	if !needsRead {
		return mutation, nil
	}

	current, err := s.FindOne(ctx, collection, bson.D{{Key: document.IDKey, Value: id}})
	if err != nil {
		return nil, err
	}

	out := bson.D{}
	for _, op := range mutation {
		switch op.Key {
		case "$push", "$addToSet", "$pull":
			fields, ok := document.AsDocument(op.Value)
			if !ok {
				return nil, fmt.Errorf("%w: mutation %s wants a document", driver.ErrUnsupportedFilter, op.Key)
			}
			set := bson.D{}
			for _, f := range fields {
				raw, _ := document.Lookup(current, f.Key)
				list := asList(raw)
				switch op.Key {
				case "$push":
					list = append(list, f.Value)
				case "$addToSet":
					if !containsElem(list, f.Value) {
						list = append(list, f.Value)
					}
				case "$pull":
					list = withoutElem(list, f.Value)
				}
				set = append(set, bson.E{Key: f.Key, Value: list})
			}
			out = append(out, bson.E{Key: "$set", Value: set})
		default:
			out = append(out, op)
		}
	}
	return out, nil
}

func asList(v any) bson.A {
	switch t := v.(type) {
	case bson.A:
		return t
	case []any:
		return bson.A(t)
	case []string:
		out := make(bson.A, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	default:
		return nil
	}
}

func containsElem(list bson.A, v any) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}

func withoutElem(list bson.A, v any) bson.A {
	out := make(bson.A, 0, len(list))
	for _, e := range list {
		if e != v {
			out = append(out, e)
		}
	}
	return out
}

// idEquality reports whether filter is a bare id equality.
func idEquality(filter bson.D) (string, bool) {
	if len(filter) != 1 || filter[0].Key != document.IDKey {
		return "", false
	}
	id, ok := filter[0].Value.(string)
	return id, ok
}

// resolveID finds the primary key of the first document matching filter.
func (s *Store) resolveID(ctx context.Context, collection string, filter bson.D) (string, error) {
	if id, ok := idEquality(filter); ok && len(filter) == 1 {
		return id, nil
	}
	doc, err := s.FindOne(ctx, collection, filter)
	if err != nil {
		return "", err
	}
	id, ok := document.ID(doc)
	if !ok {
		return "", driver.ErrNotFound
	}
	return id, nil
}

// scanInput translates the supported filter subset to a scan expression.
func (s *Store) scanInput(collection string, filter bson.D) (*dynamodb.ScanInput, error) {
	input := &dynamodb.ScanInput{TableName: aws.String(s.tableName(collection))}
	if len(filter) == 0 {
		return input, nil
	}

	var clauses []string
	names := map[string]string{}
	values := map[string]types.AttributeValue{}

	for i, cond := range filter {
		nameKey := fmt.Sprintf("#attr%d", i)
		names[nameKey] = cond.Key

		if ops, ok := operatorDoc(cond.Value); ok {
			for _, op := range ops {
				switch op.Key {
				case "$exists":
					if want, _ := op.Value.(bool); want {
						clauses = append(clauses, fmt.Sprintf("attribute_exists(%s)", nameKey))
					} else {
						clauses = append(clauses, fmt.Sprintf("attribute_not_exists(%s)", nameKey))
					}
				default:
					return nil, fmt.Errorf("%w: operator %s on dynamodb", driver.ErrUnsupportedFilter, op.Key)
				}
			}
			continue
		}

		av, err := marshalValue(cond.Value)
		if err != nil {
			return nil, err
		}
		valueKey := fmt.Sprintf(":val%d", i)
		values[valueKey] = av
		clauses = append(clauses, fmt.Sprintf("%s = %s", nameKey, valueKey))
	}

	input.FilterExpression = aws.String(joinClauses(clauses))
	input.ExpressionAttributeNames = names
	if len(values) > 0 {
		input.ExpressionAttributeValues = values
	}
	return input, nil
}

// updateExpression translates $set/$unset mutations to an update expression.
func updateExpression(mutation bson.D) (string, map[string]string, map[string]types.AttributeValue, error) {
	var setClauses, removeClauses []string
	names := map[string]string{}
	values := map[string]types.AttributeValue{}
	i := 0

	for _, op := range mutation {
		fields, ok := document.AsDocument(op.Value)
		if !ok {
			return "", nil, nil, fmt.Errorf("%w: mutation %s wants a document", driver.ErrUnsupportedFilter, op.Key)
		}
		switch op.Key {
		case "$set":
			for _, f := range fields {
				nameKey := fmt.Sprintf("#attr%d", i)
				valueKey := fmt.Sprintf(":val%d", i)
				av, err := marshalValue(f.Value)
				if err != nil {
					return "", nil, nil, err
				}
				names[nameKey] = f.Key
				values[valueKey] = av
				setClauses = append(setClauses, fmt.Sprintf("%s = %s", nameKey, valueKey))
				i++
			}
		case "$unset":
			for _, f := range fields {
				nameKey := fmt.Sprintf("#attr%d", i)
				names[nameKey] = f.Key
				removeClauses = append(removeClauses, nameKey)
				i++
			}
		default:
			return "", nil, nil, fmt.Errorf("%w: mutation %s on dynamodb", driver.ErrUnsupportedFilter, op.Key)
		}
	}

	expr := ""
	if len(setClauses) > 0 {
		expr = "SET " + joinClauses2(setClauses, ", ")
	}
	if len(removeClauses) > 0 {
		if expr != "" {
			expr += " "
		}
		expr += "REMOVE " + joinClauses2(removeClauses, ", ")
	}
	if expr == "" {
		return "", nil, nil, fmt.Errorf("%w: empty mutation", driver.ErrUnsupportedFilter)
	}
	return expr, names, values, nil
}

func operatorDoc(cond any) (bson.D, bool) {
	doc, ok := document.AsDocument(cond)
	if !ok || len(doc) == 0 {
		return nil, false
	}
	for _, e := range doc {
		if len(e.Key) == 0 || e.Key[0] != '$' {
			return nil, false
		}
	}
	return doc, true
}

func idKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}
}

// marshalDoc converts an ordered document to a DynamoDB item.
func marshalDoc(doc bson.D) (map[string]types.AttributeValue, error) {
	return attributevalue.MarshalMap(bsonToMap(doc))
}

func marshalValue(v any) (types.AttributeValue, error) {
	return attributevalue.Marshal(plainValue(v))
}

// unmarshalItem converts a DynamoDB item back to an ordered document.
// DynamoDB items are unordered, so the result puts id first and sorts the
// remaining keys for determinism.
func unmarshalItem(item map[string]types.AttributeValue) (bson.D, error) {
	var m map[string]any
	if err := attributevalue.UnmarshalMap(item, &m); err != nil {
		return nil, err
	}
	return mapToBson(m), nil
}

func bsonToMap(doc bson.D) map[string]any {
	out := make(map[string]any, len(doc))
	for _, e := range doc {
		out[e.Key] = plainValue(e.Value)
	}
	return out
}

func plainValue(v any) any {
	switch t := v.(type) {
	case bson.D:
		return bsonToMap(t)
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plainValue(e)
		}
		return out
	default:
		return v
	}
}

func mapToBson(m map[string]any) bson.D {
	keys := make([]string, 0, len(m))
	for k := range m {
		if k != document.IDKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make(bson.D, 0, len(m))
	if id, ok := m[document.IDKey]; ok {
		out = append(out, bson.E{Key: document.IDKey, Value: nestedValue(id)})
	}
	for _, k := range keys {
		out = append(out, bson.E{Key: k, Value: nestedValue(m[k])})
	}
	return out
}

func nestedValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return mapToBson(t)
	case []any:
		out := make(bson.A, len(t))
		for i, e := range t {
			out[i] = nestedValue(e)
		}
		return out
	default:
		return v
	}
}

func joinClauses(clauses []string) string {
	return joinClauses2(clauses, " AND ")
}

func joinClauses2(clauses []string, sep string) string {
	if len(clauses) == 0 {
		return ""
	}
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += sep + c
	}
	return out
}
