package aggregate

import (
	"errors"
	"reflect"
	"testing"

	"vkcluster/internal/routing"
)

func TestCombineAllSucceeded(t *testing.T) {
	replies := []NodeReply{{Value: "OK"}, {Value: "OK"}}
	got, err := Combine(routing.PolicyAllSucceeded, replies)
	if err != nil || got != "OK" {
		t.Fatalf("got (%v, %v)", got, err)
	}

	replies = []NodeReply{{Value: "OK"}, {Err: errors.New("boom")}}
	if _, err := Combine(routing.PolicyAllSucceeded, replies); err == nil {
		t.Error("expected error to propagate")
	}
}

func TestCombineOneSucceeded(t *testing.T) {
	replies := []NodeReply{{Err: errors.New("e1")}, {Value: "yes"}}
	got, err := Combine(routing.PolicyOneSucceeded, replies)
	if err != nil || got != "yes" {
		t.Fatalf("got (%v, %v)", got, err)
	}
}

func TestCombineFirstSucceededNonEmptyOrAllEmpty(t *testing.T) {
	replies := []NodeReply{{Value: nil}, {Value: "k1"}, {Value: nil}}
	got, err := Combine(routing.PolicyFirstSucceededNonEmptyOrAllEmpty, replies)
	if err != nil || got != "k1" {
		t.Fatalf("got (%v, %v)", got, err)
	}

	allNil := []NodeReply{{Value: nil}, {Value: nil}}
	got, err = Combine(routing.PolicyFirstSucceededNonEmptyOrAllEmpty, allNil)
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil, got (%v, %v)", got, err)
	}
}

func TestCombineAggregateSumAndMin(t *testing.T) {
	replies := []NodeReply{{Value: int64(2)}, {Value: int64(5)}, {Value: int64(1)}}
	sum, err := Combine(routing.PolicyAggregateSum, replies)
	if err != nil || sum != int64(8) {
		t.Fatalf("sum = (%v, %v)", sum, err)
	}
	min, err := Combine(routing.PolicyAggregateMin, replies)
	if err != nil || min != int64(1) {
		t.Fatalf("min = (%v, %v)", min, err)
	}
}

func TestCombineAggregateLogicalAnd(t *testing.T) {
	replies := []NodeReply{
		{Value: []interface{}{int64(1), int64(0), int64(1)}},
		{Value: []interface{}{int64(1), int64(1), int64(0)}},
	}
	got, err := Combine(routing.PolicyAggregateLogicalAnd, replies)
	if err != nil {
		t.Fatal(err)
	}
	want := []interface{}{int64(1), int64(0), int64(0)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCombineArraysConcatenates(t *testing.T) {
	replies := []NodeReply{
		{Value: []interface{}{"a", "b"}},
		{Value: []interface{}{"c"}},
	}
	got, err := Combine(routing.PolicyCombineArrays, replies)
	if err != nil {
		t.Fatal(err)
	}
	want := []interface{}{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCombineMaps(t *testing.T) {
	replies := []NodeReply{
		{Value: []interface{}{"ch1", int64(2)}},
		{Value: []interface{}{"ch1", int64(3)}, Addr: "n2"},
	}
	got, err := Combine(routing.PolicyCombineMaps, replies)
	if err != nil {
		t.Fatal(err)
	}
	want := []interface{}{"ch1", int64(5)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestAddressMapRequiresAddr(t *testing.T) {
	_, err := Combine(routing.PolicySpecial, []NodeReply{{Value: "x"}})
	if err == nil {
		t.Error("expected error when address is missing")
	}
	got, err := Combine(routing.PolicySpecial, []NodeReply{{Addr: "n1", Value: "x"}})
	if err != nil {
		t.Fatal(err)
	}
	m := got.(map[string]interface{})
	if m["n1"] != "x" {
		t.Errorf("got %v", m)
	}
}

func TestCombineMultiSlotArraysReordersToOriginalKeyPositions(t *testing.T) {
	contribs := []RouteContribution{
		{ArgIndices: []int{0, 2}, Values: []interface{}{"v0", "v2"}},
		{ArgIndices: []int{1}, Values: []interface{}{"v1"}},
	}
	got, err := CombineMultiSlotArrays(contribs, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []interface{}{"v0", "v1", "v2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
