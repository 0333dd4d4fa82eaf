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

package tdb

// maxSubstitutionsAllowed bounds alias chains so that mapping loops
// terminate with a MappingError instead of spinning.
const maxSubstitutionsAllowed = 50

type tableAndCol struct {
	table TableKey
	name  string
}

// KeyPathMapping holds aliases used while resolving key paths in queries:
// per-table property aliases (subquery variables, renamed properties) and
// table-name aliases (backlink class prefixes, public names).
type KeyPathMapping struct {
	mapping       map[tableAndCol]string
	tableMappings map[string]string
	backlinkClassPrefix string
}

// NewKeyPathMapping builds an empty mapping.
func NewKeyPathMapping() *KeyPathMapping {
	return &KeyPathMapping{
		mapping:       make(map[tableAndCol]string),
		tableMappings: make(map[string]string),
	}
}

// AddMapping registers name -> alias for the given table. It reports whether
// the mapping was newly added.
func (k *KeyPathMapping) AddMapping(table TableKey, name, alias string) bool {
	key := tableAndCol{table, name}
	if _, exists := k.mapping[key]; exists {
		return false
	}
	k.mapping[key] = alias
	return true
}

// RemoveMapping removes a property alias. It reports whether a mapping was
// removed.
func (k *KeyPathMapping) RemoveMapping(table TableKey, name string) bool {
	key := tableAndCol{table, name}
	if _, exists := k.mapping[key]; !exists {
		return false
	}
	delete(k.mapping, key)
	return true
}

// HasMapping reports whether a property alias exists.
func (k *KeyPathMapping) HasMapping(table TableKey, name string) bool {
	_, ok := k.mapping[tableAndCol{table, name}]
	return ok
}

func (k *KeyPathMapping) getMapping(table TableKey, name string) (string, bool) {
	alias, ok := k.mapping[tableAndCol{table, name}]
	return alias, ok
}

// AddTableMapping registers alias -> realName. Mapping a name to itself is
// refused, preventing an immediate loop.
func (k *KeyPathMapping) AddTableMapping(realName, alias string) bool {
	if alias == realName {
		return false
	}
	if _, exists := k.tableMappings[alias]; exists {
		return false
	}
	k.tableMappings[alias] = realName
	return true
}

// RemoveTableMapping removes a table alias.
func (k *KeyPathMapping) RemoveTableMapping(alias string) bool {
	if _, exists := k.tableMappings[alias]; !exists {
		return false
	}
	delete(k.tableMappings, alias)
	return true
}

// SetBacklinkClassPrefix sets the prefix applied to unmapped table names.
func (k *KeyPathMapping) SetBacklinkClassPrefix(prefix string) {
	k.backlinkClassPrefix = prefix
}

// TranslateTableName resolves a table identifier through the alias chain.
// Unmapped names receive the backlink class prefix when one is set.
func (k *KeyPathMapping) TranslateTableName(identifier string) (string, error) {
	substitutions := 0
	alias := identifier
	for {
		mapped, ok := k.tableMappings[alias]
		if !ok {
			break
		}
		if substitutions > maxSubstitutionsAllowed {
			return "", ErrMapping.New(identifier, mapped)
		}
		alias = mapped
		substitutions++
	}
	if substitutions == 0 && k.backlinkClassPrefix != "" {
		alias = k.backlinkClassPrefix + alias
	}
	return alias, nil
}

// Translate resolves a property identifier through the alias chain for the
// given table.
func (k *KeyPathMapping) Translate(table TableKey, identifier string) (string, error) {
	substitutions := 0
	alias := identifier
	for {
		mapped, ok := k.getMapping(table, alias)
		if !ok {
			break
		}
		if substitutions > maxSubstitutionsAllowed {
			return "", ErrMapping.New(alias, mapped)
		}
		alias = mapped
		substitutions++
	}
	return alias, nil
}
