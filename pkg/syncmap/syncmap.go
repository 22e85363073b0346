/*---------------------------------------------------------------------------------------------
 *  Copyright (c) the dapkit authors. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package syncmap is a generic wrapper over standard library sync.Map

package syncmap

import "sync"

type Map[Key comparable, Value any] sync.Map

func (m *Map[Key, Value]) syncMap() *sync.Map {
	return (*sync.Map)(m)
}

func (m *Map[Key, Value]) Store(key Key, value Value) {
	m.syncMap().Store(key, value)
}

// Returns the value stored in the map (if found), and a boolean indicating whether the value was found.
func (m *Map[Key, Value]) Load(key Key) (Value, bool) {
	anyValue, found := m.syncMap().Load(key)
	if !found {
		return zero[Value](), false
	}
	return anyValue.(Value), true
}

// Deletes the value for the passed key.
// If the key has no corresponding value, the map is unchanged.
func (m *Map[Key, Value]) Delete(key Key) {
	m.syncMap().Delete(key)
}

// Loads and deletes the value for the passed key.
// If the key has no corresponding value, the map is unchanged and the returned boolean is false.
func (m *Map[Key, Value]) LoadAndDelete(key Key) (Value, bool) {
	anyValue, found := m.syncMap().LoadAndDelete(key)
	if !found {
		return zero[Value](), false
	}
	return anyValue.(Value), true
}

// Calls passed function for each key-value pair in the map.
// If the function returns false, the iteration stops.
func (m *Map[Key, Value]) Range(f func(key Key, value Value) bool) {
	m.syncMap().Range(func(key, value any) bool {
		return f(key.(Key), value.(Value))
	})
}

// Returns the number of entries currently in the map.
// This is a point-in-time count; the map might be modified immediately after this method returns.
func (m *Map[Key, Value]) Len() int {
	n := 0
	m.syncMap().Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func zero[T any]() T {
	return *new(T)
}
