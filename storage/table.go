package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
)

const (
	kindBoard      = "board"
	kindTodo       = "todo"
	boardRowPrefix = "board_"
	todoRowPrefix  = "todo_"

	edmInt32 = "Edm.Int32"
	edmInt64 = "Edm.Int64"

	// maxBatchSize is the entity-group transaction limit of Table Storage.
	maxBatchSize       = 100
	maxConflictRetries = 10
)

type tableClient interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
	NewListEntitiesPager(options *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
	SubmitTransaction(ctx context.Context, actions []aztables.TransactionAction, options *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error)
}

// TableStore keeps boards and todos in a single Azure table partitioned by
// owner, so every query is owner-scoped by construction.
type TableStore struct {
	client tableClient
}

// NewTableStore connects to the named table using the given connection string.
func NewTableStore(connStr, table string) (*TableStore, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, tableClientOptions())
	if err != nil {
		return nil, err
	}
	return &TableStore{client: svc.NewClient(table)}, nil
}

func tableClientOptions() *aztables.ClientOptions {
	return &aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}

// CreateTable creates the table if it does not exist yet.
func CreateTable(ctx context.Context, connStr, table string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, tableClientOptions())
	if err != nil {
		return err
	}
	_, err = svc.NewClient(table).CreateTable(ctx, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
			return err
		}
		log.WithField("table", table).Debug("table already exists")
	}
	return nil
}

type entityKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type boardEntity struct {
	entityKeys
	Kind          string `json:"Kind"`
	Title         string `json:"Title"`
	Description   string `json:"Description"`
	Color         string `json:"Color"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
	// Revision is bumped whenever a todo is added so that concurrent
	// inserts and the cascade delete conflict on the board's ETag.
	Revision     int64  `json:"Revision,string"`
	RevisionType string `json:"Revision@odata.type"`
}

// boardUpdate merges the mutable board fields and leaves Revision alone.
type boardUpdate struct {
	entityKeys
	Title         string `json:"Title"`
	Description   string `json:"Description"`
	Color         string `json:"Color"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
}

type boardRevision struct {
	entityKeys
	Revision     int64  `json:"Revision,string"`
	RevisionType string `json:"Revision@odata.type"`
}

type todoEntity struct {
	entityKeys
	Kind          string `json:"Kind"`
	BoardID       string `json:"BoardId"`
	Title         string `json:"Title"`
	Description   string `json:"Description"`
	Status        string `json:"Status"`
	Priority      string `json:"Priority"`
	DueDate       *int64 `json:"DueDate,omitempty,string"`
	DueDateType   string `json:"DueDate@odata.type,omitempty"`
	Order         int    `json:"Order"`
	OrderType     string `json:"Order@odata.type"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
}

func boardKeys(ownerID, boardID string) entityKeys {
	return entityKeys{PartitionKey: ownerID, RowKey: boardRowPrefix + boardID}
}

func todoKeys(ownerID, todoID string) entityKeys {
	return entityKeys{PartitionKey: ownerID, RowKey: todoRowPrefix + todoID}
}

func toBoardEntity(b domain.Board) boardEntity {
	return boardEntity{
		entityKeys:    boardKeys(b.OwnerID, b.ID),
		Kind:          kindBoard,
		Title:         b.Title,
		Description:   b.Description,
		Color:         b.Color,
		CreatedAt:     b.CreatedAt.UnixNano(),
		CreatedAtType: edmInt64,
		UpdatedAt:     b.UpdatedAt.UnixNano(),
		UpdatedAtType: edmInt64,
		RevisionType:  edmInt64,
	}
}

func (e boardEntity) toDomain() domain.Board {
	return domain.Board{
		ID:          strings.TrimPrefix(e.RowKey, boardRowPrefix),
		Title:       e.Title,
		Description: e.Description,
		Color:       e.Color,
		OwnerID:     e.PartitionKey,
		CreatedAt:   time.Unix(0, e.CreatedAt).UTC(),
		UpdatedAt:   time.Unix(0, e.UpdatedAt).UTC(),
	}
}

func toTodoEntity(t domain.Todo) todoEntity {
	ent := todoEntity{
		entityKeys:    todoKeys(t.OwnerID, t.ID),
		Kind:          kindTodo,
		BoardID:       t.BoardID,
		Title:         t.Title,
		Description:   t.Description,
		Status:        string(t.Status),
		Priority:      string(t.Priority),
		Order:         t.Order,
		OrderType:     edmInt32,
		CreatedAt:     t.CreatedAt.UnixNano(),
		CreatedAtType: edmInt64,
		UpdatedAt:     t.UpdatedAt.UnixNano(),
		UpdatedAtType: edmInt64,
	}
	if t.DueDate != nil {
		due := t.DueDate.UnixNano()
		ent.DueDate = &due
		ent.DueDateType = edmInt64
	}
	return ent
}

func (e todoEntity) toDomain() domain.Todo {
	t := domain.Todo{
		ID:          strings.TrimPrefix(e.RowKey, todoRowPrefix),
		Title:       e.Title,
		Description: e.Description,
		Status:      domain.Status(e.Status),
		Priority:    domain.Priority(e.Priority),
		BoardID:     e.BoardID,
		OwnerID:     e.PartitionKey,
		Order:       e.Order,
		CreatedAt:   time.Unix(0, e.CreatedAt).UTC(),
		UpdatedAt:   time.Unix(0, e.UpdatedAt).UTC(),
	}
	if e.DueDate != nil {
		due := time.Unix(0, *e.DueDate).UTC()
		t.DueDate = &due
	}
	return t
}

// odataQuote escapes a value for use inside a single-quoted OData literal.
func odataQuote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func isStatus(err error, status int, codes ...string) bool {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return false
	}
	if respErr.StatusCode == status {
		return true
	}
	for _, c := range codes {
		if respErr.ErrorCode == c {
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	return isStatus(err, 404, "ResourceNotFound", "EntityNotFound")
}

func isConflict(err error) bool {
	return isStatus(err, 412, "UpdateConditionNotSatisfied", "ConditionNotMet")
}

func (s *TableStore) list(ctx context.Context, filter string, visit func([]byte) error) error {
	pager := s.client.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, raw := range resp.Entities {
			if err := visit(raw); err != nil {
				return err
			}
		}
	}
	return nil
}

// ListBoards returns the owner's boards, newest first.
func (s *TableStore) ListBoards(ctx context.Context, ownerID string) ([]domain.Board, error) {
	filter := "PartitionKey eq " + odataQuote(ownerID) + " and Kind eq " + odataQuote(kindBoard)
	boards := []domain.Board{}
	err := s.list(ctx, filter, func(raw []byte) error {
		var ent boardEntity
		if err := sonic.ConfigStd.Unmarshal(raw, &ent); err != nil {
			return err
		}
		boards = append(boards, ent.toDomain())
		return nil
	})
	if err != nil {
		return nil, err
	}
	domain.SortBoards(boards)
	return boards, nil
}

func (s *TableStore) getBoardEntity(ctx context.Context, ownerID, boardID string) (*boardEntity, azcore.ETag, error) {
	keys := boardKeys(ownerID, boardID)
	resp, err := s.client.GetEntity(ctx, keys.PartitionKey, keys.RowKey, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, "", nil
		}
		return nil, "", err
	}
	var ent boardEntity
	if err := sonic.ConfigStd.Unmarshal(resp.Value, &ent); err != nil {
		return nil, "", err
	}
	if ent.Kind != kindBoard {
		return nil, "", nil
	}
	return &ent, resp.ETag, nil
}

// GetBoard returns nil, nil when the owner has no board with that id.
func (s *TableStore) GetBoard(ctx context.Context, ownerID, boardID string) (*domain.Board, error) {
	ent, _, err := s.getBoardEntity(ctx, ownerID, boardID)
	if err != nil || ent == nil {
		return nil, err
	}
	b := ent.toDomain()
	return &b, nil
}

func (s *TableStore) InsertBoard(ctx context.Context, b domain.Board) error {
	payload, err := sonic.ConfigStd.Marshal(toBoardEntity(b))
	if err != nil {
		return err
	}
	_, err = s.client.AddEntity(ctx, payload, nil)
	return err
}

func (s *TableStore) UpdateBoard(ctx context.Context, b domain.Board) error {
	payload, err := sonic.ConfigStd.Marshal(boardUpdate{
		entityKeys:    boardKeys(b.OwnerID, b.ID),
		Title:         b.Title,
		Description:   b.Description,
		Color:         b.Color,
		UpdatedAt:     b.UpdatedAt.UnixNano(),
		UpdatedAtType: edmInt64,
	})
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.client.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	if isNotFound(err) {
		return domain.ErrBoardNotFound
	}
	return err
}

// DeleteBoard removes the board's todos and then the board. The final batch
// deletes the board under its ETag, so a todo added concurrently makes the
// batch fail and the whole cascade is retried with a fresh listing.
func (s *TableStore) DeleteBoard(ctx context.Context, ownerID, boardID string) (int, error) {
	removed := 0
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		ent, etag, err := s.getBoardEntity(ctx, ownerID, boardID)
		if err != nil {
			return removed, err
		}
		if ent == nil {
			return removed, domain.ErrBoardNotFound
		}
		rowKeys, err := s.todoRowKeys(ctx, ownerID, boardID)
		if err != nil {
			return removed, err
		}

		anyTag := azcore.ETagAny
		actions := make([]aztables.TransactionAction, 0, len(rowKeys)+1)
		for _, rk := range rowKeys {
			payload, err := sonic.ConfigStd.Marshal(entityKeys{PartitionKey: ownerID, RowKey: rk})
			if err != nil {
				return removed, err
			}
			actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeDelete, Entity: payload, IfMatch: &anyTag})
		}
		boardPayload, err := sonic.ConfigStd.Marshal(ent.entityKeys)
		if err != nil {
			return removed, err
		}
		actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeDelete, Entity: boardPayload, IfMatch: &etag})

		// Everything but the last chunk goes out unguarded; the last chunk
		// carries the board delete.
		raced := false
		for len(actions) > maxBatchSize {
			chunk := actions[:maxBatchSize]
			if _, err := s.client.SubmitTransaction(ctx, chunk, nil); err != nil {
				if !isNotFound(err) {
					return removed, err
				}
				raced = true
				break
			}
			removed += len(chunk)
			actions = actions[maxBatchSize:]
		}
		if raced {
			log.WithField("board", boardID).Debug("cascade chunk raced with a todo delete, retrying")
			continue
		}
		_, err = s.client.SubmitTransaction(ctx, actions, nil)
		if err == nil {
			return removed + len(actions) - 1, nil
		}
		if isConflict(err) || isNotFound(err) {
			log.WithFields(log.Fields{"board": boardID, "attempt": attempt}).Debug("cascade delete conflict, retrying")
			continue
		}
		return removed, err
	}
	return removed, domain.ErrConcurrencyConflict
}

func (s *TableStore) todoRowKeys(ctx context.Context, ownerID, boardID string) ([]string, error) {
	filter := todoFilter(ownerID, boardID)
	sel := "RowKey"
	pager := s.client.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter, Select: &sel})
	var keys []string
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var k entityKeys
			if err := sonic.ConfigStd.Unmarshal(raw, &k); err != nil {
				return nil, err
			}
			keys = append(keys, k.RowKey)
		}
	}
	return keys, nil
}

func todoFilter(ownerID, boardID string) string {
	return "PartitionKey eq " + odataQuote(ownerID) + " and Kind eq " + odataQuote(kindTodo) + " and BoardId eq " + odataQuote(boardID)
}

// ListTodos returns the todos of a board by order ascending, newest first on
// ties.
func (s *TableStore) ListTodos(ctx context.Context, ownerID, boardID string) ([]domain.Todo, error) {
	todos := []domain.Todo{}
	err := s.list(ctx, todoFilter(ownerID, boardID), func(raw []byte) error {
		var ent todoEntity
		if err := sonic.ConfigStd.Unmarshal(raw, &ent); err != nil {
			return err
		}
		todos = append(todos, ent.toDomain())
		return nil
	})
	if err != nil {
		return nil, err
	}
	domain.SortTodos(todos)
	return todos, nil
}

// GetTodo returns nil, nil when the owner has no todo with that id.
func (s *TableStore) GetTodo(ctx context.Context, ownerID, todoID string) (*domain.Todo, error) {
	keys := todoKeys(ownerID, todoID)
	resp, err := s.client.GetEntity(ctx, keys.PartitionKey, keys.RowKey, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var ent todoEntity
	if err := sonic.ConfigStd.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	if ent.Kind != kindTodo {
		return nil, nil
	}
	t := ent.toDomain()
	return &t, nil
}

// CreateTodo inserts the todo with order max+1 and bumps the board revision
// in the same transaction, guarded by the board's ETag. A concurrent insert
// or cascade invalidates the ETag and the attempt is retried.
func (s *TableStore) CreateTodo(ctx context.Context, t domain.Todo) (domain.Todo, error) {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		board, etag, err := s.getBoardEntity(ctx, t.OwnerID, t.BoardID)
		if err != nil {
			return domain.Todo{}, err
		}
		if board == nil {
			return domain.Todo{}, domain.ErrBoardNotFound
		}
		siblings, err := s.ListTodos(ctx, t.OwnerID, t.BoardID)
		if err != nil {
			return domain.Todo{}, err
		}
		t.Order = domain.NextOrder(siblings)

		todoPayload, err := sonic.ConfigStd.Marshal(toTodoEntity(t))
		if err != nil {
			return domain.Todo{}, err
		}
		revPayload, err := sonic.ConfigStd.Marshal(boardRevision{
			entityKeys:   board.entityKeys,
			Revision:     board.Revision + 1,
			RevisionType: edmInt64,
		})
		if err != nil {
			return domain.Todo{}, err
		}
		_, err = s.client.SubmitTransaction(ctx, []aztables.TransactionAction{
			{ActionType: aztables.TransactionTypeAdd, Entity: todoPayload},
			{ActionType: aztables.TransactionTypeUpdateMerge, Entity: revPayload, IfMatch: &etag},
		}, nil)
		if err == nil {
			return t, nil
		}
		if isConflict(err) {
			log.WithFields(log.Fields{"board": t.BoardID, "attempt": attempt}).Debug("todo insert conflict, retrying")
			continue
		}
		if isNotFound(err) {
			return domain.Todo{}, domain.ErrBoardNotFound
		}
		return domain.Todo{}, err
	}
	return domain.Todo{}, domain.ErrConcurrencyConflict
}

func (s *TableStore) UpdateTodo(ctx context.Context, t domain.Todo) error {
	payload, err := sonic.ConfigStd.Marshal(toTodoEntity(t))
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.client.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeReplace})
	if isNotFound(err) {
		return domain.ErrTodoNotFound
	}
	return err
}

func (s *TableStore) DeleteTodo(ctx context.Context, ownerID, boardID, todoID string) error {
	keys := todoKeys(ownerID, todoID)
	et := azcore.ETagAny
	_, err := s.client.DeleteEntity(ctx, keys.PartitionKey, keys.RowKey, &aztables.DeleteEntityOptions{IfMatch: &et})
	if isNotFound(err) {
		return domain.ErrTodoNotFound
	}
	return err
}

// Ping checks that the table answers queries.
func (s *TableStore) Ping(ctx context.Context) error {
	top := int32(1)
	pager := s.client.NewListEntitiesPager(&aztables.ListEntitiesOptions{Top: &top})
	_, err := pager.NextPage(ctx)
	return err
}
