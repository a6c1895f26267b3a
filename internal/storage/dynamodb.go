package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

const lineItemsByCalculationIndex = "calculation_id-position-index"

// DynamoAPI is the subset of the DynamoDB client used by DynamoStorage.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoStorage persists the catalog and calculations in DynamoDB.
//
// Tables (all keyed by string "id"):
//   - <prefix>houses, <prefix>rates, <prefix>flags
//   - <prefix>energy_calculations
//   - <prefix>energy_calculation_rates, with a GSI on calculation_id/position
//
// Decimals are stored as strings to keep their exact representation.
type DynamoStorage struct {
	ddb    DynamoAPI
	prefix string
	now    func() time.Time
}

func NewDynamoStorage(ddb DynamoAPI, tablePrefix string) *DynamoStorage {
	return &DynamoStorage{
		ddb:    ddb,
		prefix: tablePrefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *DynamoStorage) table(name string) *string { return aws.String(s.prefix + name) }

type houseItem struct {
	ID        string `dynamodbav:"id"`
	Name      string `dynamodbav:"name"`
	Address   string `dynamodbav:"address,omitempty"`
	CreatedAt string `dynamodbav:"created_at"`
}

type rateItem struct {
	ID        string `dynamodbav:"id"`
	Name      string `dynamodbav:"name"`
	Type      string `dynamodbav:"type"`
	Value     string `dynamodbav:"value"`
	Active    bool   `dynamodbav:"active"`
	DeletedAt string `dynamodbav:"deleted_at,omitempty"`
	CreatedAt string `dynamodbav:"created_at"`
	UpdatedAt string `dynamodbav:"updated_at"`
}

type flagItem struct {
	ID                   string `dynamodbav:"id"`
	Name                 string `dynamodbav:"name"`
	ConsumptionReference string `dynamodbav:"consumption_reference"`
	AdditionalValue      string `dynamodbav:"additional_value"`
	Active               bool   `dynamodbav:"active"`
	DeletedAt            string `dynamodbav:"deleted_at,omitempty"`
	CreatedAt            string `dynamodbav:"created_at"`
	UpdatedAt            string `dynamodbav:"updated_at"`
}

type calculationItem struct {
	ID          string `dynamodbav:"id"`
	HouseID     string `dynamodbav:"house_id"`
	FlagID      string `dynamodbav:"flag_id"`
	Date        string `dynamodbav:"date"`
	Consumption string `dynamodbav:"consumption"`
	Value       string `dynamodbav:"value,omitempty"` // empty while pending
	CreatedAt   string `dynamodbav:"created_at"`
	UpdatedAt   string `dynamodbav:"updated_at"`
}

type lineItemItem struct {
	ID            string `dynamodbav:"id"`
	CalculationID string `dynamodbav:"calculation_id"`
	RateID        string `dynamodbav:"rate_id"`
	Position      int    `dynamodbav:"position"`
	Value         string `dynamodbav:"value"`
	Description   string `dynamodbav:"description,omitempty"`
	CreatedAt     string `dynamodbav:"created_at"`
}

// Migrate creates any missing tables with on-demand billing.
func (s *DynamoStorage) Migrate(ctx context.Context) error {
	for _, name := range []string{"houses", "rates", "flags", "energy_calculations"} {
		if err := s.createTable(ctx, &dynamodb.CreateTableInput{
			TableName:            s.table(name),
			BillingMode:          types.BillingModePayPerRequest,
			AttributeDefinitions: []types.AttributeDefinition{{AttributeName: aws.String("id"), AttributeType: types.ScalarAttributeTypeS}},
			KeySchema:            []types.KeySchemaElement{{AttributeName: aws.String("id"), KeyType: types.KeyTypeHash}},
		}); err != nil {
			return err
		}
	}
	return s.createTable(ctx, &dynamodb.CreateTableInput{
		TableName:   s.table("energy_calculation_rates"),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("id"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("calculation_id"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("position"), AttributeType: types.ScalarAttributeTypeN},
		},
		KeySchema: []types.KeySchemaElement{{AttributeName: aws.String("id"), KeyType: types.KeyTypeHash}},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{{
			IndexName: aws.String(lineItemsByCalculationIndex),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("calculation_id"), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String("position"), KeyType: types.KeyTypeRange},
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		}},
	})
}

func (s *DynamoStorage) createTable(ctx context.Context, in *dynamodb.CreateTableInput) error {
	_, err := s.ddb.CreateTable(ctx, in)
	var inUse *types.ResourceInUseException
	if err != nil && !errors.As(err, &inUse) {
		return fmt.Errorf("create table %s: %w", aws.ToString(in.TableName), err)
	}
	return nil
}

func (s *DynamoStorage) Close() error { return nil }

func (s *DynamoStorage) Ping(ctx context.Context) error {
	_, err := s.ddb.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: s.table("energy_calculations")})
	return err
}

// Catalog

func (s *DynamoStorage) ListActiveRates(ctx context.Context) ([]Rate, error) {
	var items []rateItem
	if err := s.scanAll(ctx, "rates", &items); err != nil {
		return nil, err
	}
	out := make([]Rate, 0, len(items))
	for _, it := range items {
		r, err := fromRateItem(it)
		if err != nil {
			return nil, err
		}
		if r.Usable() {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *DynamoStorage) GetRate(ctx context.Context, id string) (*Rate, error) {
	var it rateItem
	found, err := s.getByID(ctx, "rates", id, &it)
	if err != nil || !found {
		return nil, err
	}
	r, err := fromRateItem(it)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *DynamoStorage) UpsertRate(ctx context.Context, r Rate) error {
	now := s.now()
	if prev, err := s.GetRate(ctx, r.ID); err != nil {
		return err
	} else if prev != nil {
		r.CreatedAt = prev.CreatedAt
	} else if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	return s.put(ctx, "rates", toRateItem(r), false)
}

func (s *DynamoStorage) GetActiveFlag(ctx context.Context, id string) (*Flag, error) {
	f, err := s.GetFlag(ctx, id)
	if err != nil || f == nil || !f.Usable() {
		return nil, err
	}
	return f, nil
}

func (s *DynamoStorage) GetFlag(ctx context.Context, id string) (*Flag, error) {
	var it flagItem
	found, err := s.getByID(ctx, "flags", id, &it)
	if err != nil || !found {
		return nil, err
	}
	f, err := fromFlagItem(it)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *DynamoStorage) UpsertFlag(ctx context.Context, f Flag) error {
	now := s.now()
	if prev, err := s.GetFlag(ctx, f.ID); err != nil {
		return err
	} else if prev != nil {
		f.CreatedAt = prev.CreatedAt
	} else if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	return s.put(ctx, "flags", toFlagItem(f), false)
}

func (s *DynamoStorage) GetHouse(ctx context.Context, id string) (*House, error) {
	var it houseItem
	found, err := s.getByID(ctx, "houses", id, &it)
	if err != nil || !found {
		return nil, err
	}
	created, err := parseTime(it.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("house %s created_at: %w", it.ID, err)
	}
	return &House{ID: it.ID, Name: it.Name, Address: it.Address, CreatedAt: created}, nil
}

func (s *DynamoStorage) UpsertHouse(ctx context.Context, h House) error {
	if prev, err := s.GetHouse(ctx, h.ID); err != nil {
		return err
	} else if prev != nil {
		h.CreatedAt = prev.CreatedAt
	} else if h.CreatedAt.IsZero() {
		h.CreatedAt = s.now()
	}
	return s.put(ctx, "houses", houseItem{
		ID:        h.ID,
		Name:      h.Name,
		Address:   h.Address,
		CreatedAt: formatTime(h.CreatedAt),
	}, false)
}

// Calculations

func (s *DynamoStorage) CreatePendingCalculation(ctx context.Context, c Calculation) (*Calculation, error) {
	now := s.now()
	c.Value = decimal.NullDecimal{}
	c.CreatedAt = now
	c.UpdatedAt = now
	if err := s.put(ctx, "energy_calculations", toCalculationItem(c), true); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *DynamoStorage) UpdateCalculationValue(ctx context.Context, id string, value decimal.Decimal) (*Calculation, error) {
	out, err := s.ddb.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: s.table("energy_calculations"),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		ConditionExpression: aws.String("attribute_exists(#id)"),
		UpdateExpression:    aws.String("SET #value = :value, #updated_at = :updated_at"),
		ExpressionAttributeNames: map[string]string{
			"#id":         "id",
			"#value":      "value",
			"#updated_at": "updated_at",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":value":      &types.AttributeValueMemberS{Value: value.String()},
			":updated_at": &types.AttributeValueMemberS{Value: formatTime(s.now())},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return nil, nil
		}
		return nil, err
	}
	if len(out.Attributes) == 0 {
		return nil, nil
	}
	var it calculationItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &it); err != nil {
		return nil, err
	}
	c, err := fromCalculationItem(it)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *DynamoStorage) GetCalculation(ctx context.Context, id string) (*Calculation, error) {
	var it calculationItem
	found, err := s.getByID(ctx, "energy_calculations", id, &it)
	if err != nil || !found {
		return nil, err
	}
	c, err := fromCalculationItem(it)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *DynamoStorage) ListStalePending(ctx context.Context, before time.Time) ([]Calculation, error) {
	var items []calculationItem
	if err := s.scanAll(ctx, "energy_calculations", &items); err != nil {
		return nil, err
	}
	var out []Calculation
	for _, it := range items {
		c, err := fromCalculationItem(it)
		if err != nil {
			return nil, err
		}
		if c.Pending() && c.CreatedAt.Before(before) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Line items

func (s *DynamoStorage) InsertLineItem(ctx context.Context, item LineItem) (*LineItem, error) {
	item.CreatedAt = s.now()
	if err := s.put(ctx, "energy_calculation_rates", lineItemItem{
		ID:            item.ID,
		CalculationID: item.CalculationID,
		RateID:        item.RateID,
		Position:      item.Position,
		Value:         item.Value.String(),
		Description:   item.Description,
		CreatedAt:     formatTime(item.CreatedAt),
	}, true); err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *DynamoStorage) ListLineItems(ctx context.Context, calculationID string) ([]LineItem, error) {
	var out []LineItem
	var startKey map[string]types.AttributeValue
	for {
		res, err := s.ddb.Query(ctx, &dynamodb.QueryInput{
			TableName:              s.table("energy_calculation_rates"),
			IndexName:              aws.String(lineItemsByCalculationIndex),
			KeyConditionExpression: aws.String("#calculation_id = :calculation_id"),
			ExpressionAttributeNames: map[string]string{
				"#calculation_id": "calculation_id",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":calculation_id": &types.AttributeValueMemberS{Value: calculationID},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, err
		}
		var items []lineItemItem
		if err := attributevalue.UnmarshalListOfMaps(res.Items, &items); err != nil {
			return nil, err
		}
		for _, it := range items {
			v, err := decimal.NewFromString(it.Value)
			if err != nil {
				return nil, fmt.Errorf("line item %s value: %w", it.ID, err)
			}
			created, err := parseTime(it.CreatedAt)
			if err != nil {
				return nil, fmt.Errorf("line item %s created_at: %w", it.ID, err)
			}
			out = append(out, LineItem{
				ID:            it.ID,
				CalculationID: it.CalculationID,
				RateID:        it.RateID,
				Position:      it.Position,
				Value:         v,
				Description:   it.Description,
				CreatedAt:     created,
			})
		}
		if len(res.LastEvaluatedKey) == 0 {
			break
		}
		startKey = res.LastEvaluatedKey
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

// helpers

func (s *DynamoStorage) put(ctx context.Context, table string, item any, mustNotExist bool) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return err
	}
	in := &dynamodb.PutItemInput{
		TableName: s.table(table),
		Item:      av,
	}
	if mustNotExist {
		in.ConditionExpression = aws.String("attribute_not_exists(#id)")
		in.ExpressionAttributeNames = map[string]string{"#id": "id"}
	}
	if _, err := s.ddb.PutItem(ctx, in); err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return ErrDuplicateID
		}
		return err
	}
	return nil
}

func (s *DynamoStorage) getByID(ctx context.Context, table, id string, dst any) (bool, error) {
	out, err := s.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: s.table(table),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, err
	}
	if len(out.Item) == 0 {
		return false, nil
	}
	return true, attributevalue.UnmarshalMap(out.Item, dst)
}

func (s *DynamoStorage) scanAll(ctx context.Context, table string, dst any) error {
	var all []map[string]types.AttributeValue
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.ddb.Scan(ctx, &dynamodb.ScanInput{
			TableName:         s.table(table),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return err
		}
		all = append(all, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return attributevalue.UnmarshalListOfMaps(all, dst)
}

func toRateItem(r Rate) rateItem {
	return rateItem{
		ID:        r.ID,
		Name:      r.Name,
		Type:      r.Type,
		Value:     r.Value.String(),
		Active:    r.Active,
		DeletedAt: formatTimePtr(r.DeletedAt),
		CreatedAt: formatTime(r.CreatedAt),
		UpdatedAt: formatTime(r.UpdatedAt),
	}
}

func fromRateItem(it rateItem) (Rate, error) {
	v, err := decimal.NewFromString(it.Value)
	if err != nil {
		return Rate{}, fmt.Errorf("rate %s value: %w", it.ID, err)
	}
	tp := timeParser{what: "rate " + it.ID}
	r := Rate{
		ID:        it.ID,
		Name:      it.Name,
		Type:      it.Type,
		Value:     v,
		Active:    it.Active,
		DeletedAt: tp.optional("deleted_at", it.DeletedAt),
		CreatedAt: tp.required("created_at", it.CreatedAt),
		UpdatedAt: tp.required("updated_at", it.UpdatedAt),
	}
	if tp.err != nil {
		return Rate{}, tp.err
	}
	return r, nil
}

func toFlagItem(f Flag) flagItem {
	return flagItem{
		ID:                   f.ID,
		Name:                 f.Name,
		ConsumptionReference: f.ConsumptionReference.String(),
		AdditionalValue:      f.AdditionalValue.String(),
		Active:               f.Active,
		DeletedAt:            formatTimePtr(f.DeletedAt),
		CreatedAt:            formatTime(f.CreatedAt),
		UpdatedAt:            formatTime(f.UpdatedAt),
	}
}

func fromFlagItem(it flagItem) (Flag, error) {
	ref, err := decimal.NewFromString(it.ConsumptionReference)
	if err != nil {
		return Flag{}, fmt.Errorf("flag %s consumption_reference: %w", it.ID, err)
	}
	extra, err := decimal.NewFromString(it.AdditionalValue)
	if err != nil {
		return Flag{}, fmt.Errorf("flag %s additional_value: %w", it.ID, err)
	}
	tp := timeParser{what: "flag " + it.ID}
	f := Flag{
		ID:                   it.ID,
		Name:                 it.Name,
		ConsumptionReference: ref,
		AdditionalValue:      extra,
		Active:               it.Active,
		DeletedAt:            tp.optional("deleted_at", it.DeletedAt),
		CreatedAt:            tp.required("created_at", it.CreatedAt),
		UpdatedAt:            tp.required("updated_at", it.UpdatedAt),
	}
	if tp.err != nil {
		return Flag{}, tp.err
	}
	return f, nil
}

func toCalculationItem(c Calculation) calculationItem {
	it := calculationItem{
		ID:          c.ID,
		HouseID:     c.HouseID,
		FlagID:      c.FlagID,
		Date:        formatTime(c.Date),
		Consumption: c.Consumption.String(),
		CreatedAt:   formatTime(c.CreatedAt),
		UpdatedAt:   formatTime(c.UpdatedAt),
	}
	if c.Value.Valid {
		it.Value = c.Value.Decimal.String()
	}
	return it
}

func fromCalculationItem(it calculationItem) (Calculation, error) {
	consumption, err := decimal.NewFromString(it.Consumption)
	if err != nil {
		return Calculation{}, fmt.Errorf("calculation %s consumption: %w", it.ID, err)
	}
	tp := timeParser{what: "calculation " + it.ID}
	c := Calculation{
		ID:          it.ID,
		HouseID:     it.HouseID,
		FlagID:      it.FlagID,
		Date:        tp.required("date", it.Date),
		Consumption: consumption,
		CreatedAt:   tp.required("created_at", it.CreatedAt),
		UpdatedAt:   tp.required("updated_at", it.UpdatedAt),
	}
	if tp.err != nil {
		return Calculation{}, tp.err
	}
	if it.Value != "" {
		v, err := decimal.NewFromString(it.Value)
		if err != nil {
			return Calculation{}, fmt.Errorf("calculation %s value: %w", it.ID, err)
		}
		c.Value = decimal.NewNullDecimal(v)
	}
	return c, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// timeParser decodes the timestamps of one item and keeps the first error.
type timeParser struct {
	what string
	err  error
}

func (p *timeParser) required(field, s string) time.Time {
	t, err := parseTime(s)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s %s: %w", p.what, field, err)
	}
	return t
}

// optional maps an empty attribute to nil.
func (p *timeParser) optional(field, s string) *time.Time {
	if s == "" {
		return nil
	}
	t := p.required(field, s)
	return &t
}
