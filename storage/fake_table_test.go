package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
)

type fakeRow struct {
	props map[string]any
	etag  int
}

// fakeTable is an in-memory stand-in for an Azure table that honours
// If-Match, merge/replace updates and all-or-nothing transactions.
type fakeTable struct {
	mu      sync.Mutex
	rows    map[string]fakeRow
	version int

	// beforeSubmit runs before each transaction is applied.
	beforeSubmit func(f *fakeTable, actions []aztables.TransactionAction)
	submits      int
}

func newFakeTable() *fakeTable {
	return &fakeTable{rows: map[string]fakeRow{}}
}

func rowID(pk, rk string) string { return pk + "|" + rk }

func respErr(status int, code string) error {
	return &azcore.ResponseError{StatusCode: status, ErrorCode: code}
}

func decodeProps(payload []byte) (map[string]any, string, string, error) {
	props := map[string]any{}
	if err := sonic.ConfigStd.Unmarshal(payload, &props); err != nil {
		return nil, "", "", err
	}
	pk, _ := props["PartitionKey"].(string)
	rk, _ := props["RowKey"].(string)
	return props, pk, rk, nil
}

func (f *fakeTable) etagOf(r fakeRow) azcore.ETag {
	return azcore.ETag(fmt.Sprintf("W/\"%d\"", r.etag))
}

func matches(ifMatch *azcore.ETag, current azcore.ETag) bool {
	return ifMatch == nil || *ifMatch == azcore.ETagAny || *ifMatch == current
}

func (f *fakeTable) nextVersion() int {
	f.version++
	return f.version
}

func (f *fakeTable) add(rows map[string]fakeRow, payload []byte) error {
	props, pk, rk, err := decodeProps(payload)
	if err != nil {
		return err
	}
	if _, ok := rows[rowID(pk, rk)]; ok {
		return respErr(409, "EntityAlreadyExists")
	}
	rows[rowID(pk, rk)] = fakeRow{props: props, etag: f.nextVersion()}
	return nil
}

func (f *fakeTable) update(rows map[string]fakeRow, payload []byte, ifMatch *azcore.ETag, merge bool) error {
	props, pk, rk, err := decodeProps(payload)
	if err != nil {
		return err
	}
	cur, ok := rows[rowID(pk, rk)]
	if !ok {
		return respErr(404, "ResourceNotFound")
	}
	if !matches(ifMatch, f.etagOf(cur)) {
		return respErr(412, "UpdateConditionNotSatisfied")
	}
	if merge {
		merged := map[string]any{}
		for k, v := range cur.props {
			merged[k] = v
		}
		for k, v := range props {
			merged[k] = v
		}
		props = merged
	}
	rows[rowID(pk, rk)] = fakeRow{props: props, etag: f.nextVersion()}
	return nil
}

func (f *fakeTable) remove(rows map[string]fakeRow, pk, rk string, ifMatch *azcore.ETag) error {
	cur, ok := rows[rowID(pk, rk)]
	if !ok {
		return respErr(404, "ResourceNotFound")
	}
	if !matches(ifMatch, f.etagOf(cur)) {
		return respErr(412, "UpdateConditionNotSatisfied")
	}
	delete(rows, rowID(pk, rk))
	return nil
}

func (f *fakeTable) GetEntity(ctx context.Context, pk, rk string, _ *aztables.GetEntityOptions) (aztables.GetEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[rowID(pk, rk)]
	if !ok {
		return aztables.GetEntityResponse{}, respErr(404, "ResourceNotFound")
	}
	value, err := sonic.ConfigStd.Marshal(r.props)
	if err != nil {
		return aztables.GetEntityResponse{}, err
	}
	return aztables.GetEntityResponse{ETag: f.etagOf(r), Value: value}, nil
}

func (f *fakeTable) AddEntity(ctx context.Context, entity []byte, _ *aztables.AddEntityOptions) (aztables.AddEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return aztables.AddEntityResponse{}, f.add(f.rows, entity)
}

func (f *fakeTable) UpdateEntity(ctx context.Context, entity []byte, o *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ifMatch *azcore.ETag
	merge := false
	if o != nil {
		ifMatch = o.IfMatch
		merge = o.UpdateMode == aztables.UpdateModeMerge
	}
	return aztables.UpdateEntityResponse{}, f.update(f.rows, entity, ifMatch, merge)
}

func (f *fakeTable) DeleteEntity(ctx context.Context, pk, rk string, o *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ifMatch *azcore.ETag
	if o != nil {
		ifMatch = o.IfMatch
	}
	return aztables.DeleteEntityResponse{}, f.remove(f.rows, pk, rk, ifMatch)
}

// NewListEntitiesPager understands filters of the form "A eq 'x' and B eq 'y'".
func (f *fakeTable) NewListEntitiesPager(o *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse] {
	var conds [][2]string
	if o != nil && o.Filter != nil {
		for _, clause := range strings.Split(*o.Filter, " and ") {
			parts := strings.SplitN(clause, " eq ", 2)
			val := strings.TrimSuffix(strings.TrimPrefix(parts[1], "'"), "'")
			conds = append(conds, [2]string{parts[0], strings.ReplaceAll(val, "''", "'")})
		}
	}
	done := false
	return runtime.NewPager(runtime.PagingHandler[aztables.ListEntitiesResponse]{
		More: func(aztables.ListEntitiesResponse) bool { return !done },
		Fetcher: func(ctx context.Context, _ *aztables.ListEntitiesResponse) (aztables.ListEntitiesResponse, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			done = true
			var resp aztables.ListEntitiesResponse
			for _, r := range f.rows {
				ok := true
				for _, c := range conds {
					if fmt.Sprint(r.props[c[0]]) != c[1] {
						ok = false
						break
					}
				}
				if !ok {
					continue
				}
				raw, err := sonic.ConfigStd.Marshal(r.props)
				if err != nil {
					return resp, err
				}
				resp.Entities = append(resp.Entities, raw)
			}
			return resp, nil
		},
	})
}

func (f *fakeTable) SubmitTransaction(ctx context.Context, actions []aztables.TransactionAction, _ *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error) {
	if f.beforeSubmit != nil {
		f.beforeSubmit(f, actions)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if len(actions) > maxBatchSize {
		return aztables.TransactionResponse{}, respErr(400, "InvalidInput")
	}
	staged := make(map[string]fakeRow, len(f.rows))
	for k, v := range f.rows {
		staged[k] = v
	}
	for _, a := range actions {
		var err error
		switch a.ActionType {
		case aztables.TransactionTypeAdd:
			err = f.add(staged, a.Entity)
		case aztables.TransactionTypeUpdateMerge:
			err = f.update(staged, a.Entity, a.IfMatch, true)
		case aztables.TransactionTypeUpdateReplace:
			err = f.update(staged, a.Entity, a.IfMatch, false)
		case aztables.TransactionTypeDelete:
			_, pk, rk, derr := decodeProps(a.Entity)
			if derr != nil {
				return aztables.TransactionResponse{}, derr
			}
			err = f.remove(staged, pk, rk, a.IfMatch)
		default:
			err = fmt.Errorf("unsupported action %v", a.ActionType)
		}
		if err != nil {
			return aztables.TransactionResponse{}, err
		}
	}
	f.rows = staged
	return aztables.TransactionResponse{}, nil
}

func (f *fakeTable) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.rows {
		if r.props["Kind"] == kind {
			n++
		}
	}
	return n
}
