package main

import (
	"testing"

	"github.com/senzing-garage/g2-replicator/pkg/notification"
)

func TestScopeFilterAll(t *testing.T) {
	s := newScopeFilter(true, nil, "")
	n := notification.Notification{DataSource: "CUSTOMERS"}
	if !s.includes(n) {
		t.Fatal("expected all=true to include every notification")
	}
}

func TestScopeFilterEntityList(t *testing.T) {
	s := newScopeFilter(false, []int64{101, 202}, "")

	in := notification.Notification{AffectedEntities: []notification.AffectedEntity{{EntityID: 202}}}
	if !s.includes(in) {
		t.Fatal("expected notification touching entity 202 to be included")
	}

	out := notification.Notification{AffectedEntities: []notification.AffectedEntity{{EntityID: 303}}}
	if s.includes(out) {
		t.Fatal("expected notification touching only entity 303 to be excluded")
	}
}

func TestScopeFilterDataSource(t *testing.T) {
	s := newScopeFilter(true, nil, "CUSTOMERS")

	if !s.includes(notification.Notification{DataSource: "CUSTOMERS"}) {
		t.Fatal("expected matching data source to be included")
	}
	if s.includes(notification.Notification{DataSource: "WATCHLIST"}) {
		t.Fatal("expected non-matching data source to be excluded even when scope is 'all'")
	}
}

func TestScopeFilterDataSourceAndEntityList(t *testing.T) {
	s := newScopeFilter(false, []int64{101}, "CUSTOMERS")

	match := notification.Notification{
		DataSource:       "CUSTOMERS",
		AffectedEntities: []notification.AffectedEntity{{EntityID: 101}},
	}
	if !s.includes(match) {
		t.Fatal("expected notification matching both data source and entity list to be included")
	}

	wrongSource := notification.Notification{
		DataSource:       "WATCHLIST",
		AffectedEntities: []notification.AffectedEntity{{EntityID: 101}},
	}
	if s.includes(wrongSource) {
		t.Fatal("expected data source mismatch to exclude regardless of entity id")
	}
}
