// Copyright 2023-2024 The Tern Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package table

import (
	"encoding/base64"
	"encoding/json"

	"github.com/terndb/tern/tdb"
)

// jsonValue renders a cell for JSON export. Links render as the target key,
// or as a nested object while depth remains.
func (o *Obj) jsonValue(spec *tdb.ColumnSpec, v tdb.Mixed, depth int) interface{} {
	switch v.Type() {
	case tdb.TypeNull:
		return nil
	case tdb.TypeInt:
		return v.Int()
	case tdb.TypeBool:
		return v.Bool()
	case tdb.TypeFloat:
		return v.Float()
	case tdb.TypeDouble:
		return v.Double()
	case tdb.TypeDecimal:
		return v.Decimal().String()
	case tdb.TypeString:
		return v.Str()
	case tdb.TypeBinary:
		return base64.StdEncoding.EncodeToString(v.Binary())
	case tdb.TypeTimestamp:
		return v.Timestamp().String()
	case tdb.TypeObjectID:
		return v.ObjectID().String()
	case tdb.TypeUUID:
		return v.UUID().String()
	case tdb.TypeLink, tdb.TypeTypedLink:
		if target, key, ok := o.linkTarget(spec, v); ok && depth > 0 {
			if linked, err := target.GetObject(key); err == nil {
				return linked.jsonMap(depth - 1)
			}
		}
		if v.Type() == tdb.TypeLink {
			return int64(v.Link())
		}
		return v.TypedLink().String()
	}
	return v.String()
}

func (o *Obj) jsonMap(depth int) map[string]interface{} {
	out := map[string]interface{}{"_key": int64(o.key)}
	for i := range o.table.cols {
		spec := &o.table.cols[i]
		if spec.Backlink {
			continue
		}
		switch spec.Collection {
		case tdb.CollectionNone:
			v, err := o.Get(spec.Key)
			if err != nil {
				continue
			}
			out[spec.Name] = o.jsonValue(spec, v, depth)
		case tdb.CollectionList, tdb.CollectionSet:
			l := List{obj: o, col: spec.Key}
			items := make([]interface{}, 0, l.Size())
			for _, v := range l.All() {
				items = append(items, o.jsonValue(spec, v, depth))
			}
			out[spec.Name] = items
		case tdb.CollectionDict:
			d := Dict{obj: o, col: spec.Key}
			entries := make(map[string]interface{})
			keys := d.Keys()
			values := d.Values()
			for i, k := range keys {
				entries[k] = o.jsonValue(spec, values[i], depth)
			}
			out[spec.Name] = entries
		}
	}
	return out
}

// ToJSON renders the row, following links linkDepth levels deep.
func (o *Obj) ToJSON(linkDepth int) (string, error) {
	b, err := json.Marshal(o.jsonMap(linkDepth))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToJSON renders every row of the table as a JSON array.
func (t *Table) ToJSON(linkDepth int) (string, error) {
	rows := make([]map[string]interface{}, 0, t.Size())
	t.ForEach(func(obj *Obj) bool {
		rows = append(rows, obj.jsonMap(linkDepth))
		return true
	})
	b, err := json.Marshal(rows)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// SetMixedJSON parses a JSON scalar payload into a Mixed cell. Unparseable
// payloads fail with MalformedJson.
func (o *Obj) SetMixedJSON(col tdb.ColKey, payload string) error {
	var decoded interface{}
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return tdb.ErrMalformedJson.New(err.Error())
	}
	var v tdb.Mixed
	switch x := decoded.(type) {
	case nil:
		v = tdb.Null
	case bool:
		v = tdb.NewBool(x)
	case float64:
		if x == float64(int64(x)) {
			v = tdb.NewInt(int64(x))
		} else {
			v = tdb.NewDouble(x)
		}
	case string:
		v = tdb.NewString(x)
	default:
		return tdb.ErrMalformedJson.New("only scalar payloads can be stored in a mixed cell")
	}
	return o.Set(col, v)
}
