/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config implements the dotted-key configuration registry
// consumed by the core (spec §6 "Configuration registry"): a flat INI
// file of string/uint64 entries, plus a yaml-decoded topology document
// for the engine and govaluate-backed derived keys.
package config

import (
	"strconv"

	"github.com/Knetic/govaluate"
	"github.com/go-ini/ini"
	log "github.com/sirupsen/logrus"
)

// Registry holds the flat dotted-key entries recognized by the core
// (spec §6). Keys the core never looks up are ignored silently, not
// rejected; only unparsable values of looked-up keys are logged.
type Registry struct {
	section *ini.Section
	derived map[string]*govaluate.EvaluableExpression
}

// Load parses path (an INI file with a single default section holding
// dotted keys like "tspec.interval.high") into a Registry.
func Load(path string) (*Registry, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	return &Registry{section: f.Section(""), derived: map[string]*govaluate.EvaluableExpression{}}, nil
}

// NewFromMap builds a Registry directly from a map, for tests and for
// programmatic callers that don't have an INI file on disk.
func NewFromMap(values map[string]string) *Registry {
	f := ini.Empty()
	sec := f.Section("")
	for k, v := range values {
		sec.NewKey(k, v)
	}
	return &Registry{section: sec, derived: map[string]*govaluate.EvaluableExpression{}}
}

// GetString returns key's string value or def if absent.
func (r *Registry) GetString(key, def string) string {
	k := r.section.Key(key)
	if k.String() == "" {
		return def
	}
	return k.String()
}

// GetUint64 returns key's value parsed as uint64, or def if absent or
// unparsable (satisfies tspec.Registry).
func (r *Registry) GetUint64(key string, def uint64) uint64 {
	v := r.section.Key(key).String()
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		log.WithFields(log.Fields{"key": key, "value": v}).Warn("config: ignoring unparsable key")
		return def
	}
	return n
}

// GetFloat64 returns key's value parsed as float64, or def if absent.
func (r *Registry) GetFloat64(key string, def float64) float64 {
	v := r.section.Key(key).String()
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.WithFields(log.Fields{"key": key, "value": v}).Warn("config: ignoring unparsable key")
		return def
	}
	return f
}

// DefineDerived compiles a govaluate expression for keys computed from
// others (e.g. a bend limit expressed relative to a base rate). Only
// registry keys whose names are plain govaluate identifiers can be
// referenced; a dotted key name does not resolve.
func (r *Registry) DefineDerived(key, expr string) error {
	e, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return err
	}
	r.derived[key] = e
	return nil
}

// GetDerived evaluates a previously defined derived key against the
// registry's current numeric values, returning def if the key was
// never defined or evaluation fails.
func (r *Registry) GetDerived(key string, def float64) float64 {
	e, ok := r.derived[key]
	if !ok {
		return def
	}
	params := map[string]interface{}{}
	for _, k := range r.section.Keys() {
		if f, err := strconv.ParseFloat(k.String(), 64); err == nil {
			params[k.Name()] = f
		}
	}
	result, err := e.Evaluate(params)
	if err != nil {
		log.WithFields(log.Fields{"key": key, "err": err}).Warn("config: derived key evaluation failed")
		return def
	}
	f, ok := result.(float64)
	if !ok {
		return def
	}
	return f
}
