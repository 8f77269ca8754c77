package snapshot

import (
	"testing"

	"github.com/Codeshare/codeshare/backend/internal/ot/delta"
)

func TestPieceTable_BasicString(t *testing.T) {
	pt := NewPieceTable("Hello world")
	if got := pt.String(); got != "Hello world" {
		t.Fatalf("String() = %q, want %q", got, "Hello world")
	}
	if gotLen := pt.Len(); gotLen != len([]rune("Hello world")) {
		t.Fatalf("Len() = %d, want %d", gotLen, len([]rune("Hello world")))
	}
}

func TestPieceTable_Empty(t *testing.T) {
	pt := NewPieceTable("")
	if got := pt.String(); got != "" {
		t.Fatalf("String() = %q, want empty", got)
	}
	d := delta.Delta{{Kind: delta.KindInsert, Text: "first"}}
	if err := pt.Apply(d); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got := pt.String(); got != "first" {
		t.Fatalf("String() = %q, want %q", got, "first")
	}
}

func TestPieceTable_InsertMiddle(t *testing.T) {
	pt := NewPieceTable("Hello world")

	d := delta.Delta{
		{Kind: delta.KindRetain, Count: 5},               // 跳过 "Hello"
		{Kind: delta.KindInsert, Text: " collaborative"}, // 在 pos=5 插入
	}

	if err := pt.Apply(d); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	want := "Hello collaborative world"
	if got := pt.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestPieceTable_DeleteMiddle(t *testing.T) {
	pt := NewPieceTable("Hello collaborative world")

	// 保留 "Hello"，然后删 " collaborative"
	d := delta.Delta{
		{Kind: delta.KindRetain, Count: 5},
		{Kind: delta.KindDelete, Count: 14},
	}

	if err := pt.Apply(d); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	want := "Hello world"
	if got := pt.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestPieceTable_DeleteAcrossPieces(t *testing.T) {
	pt := NewPieceTable("abcdef")
	// 先在中间插一段，制造多个 piece
	if err := pt.Apply(delta.Delta{
		{Kind: delta.KindRetain, Count: 3},
		{Kind: delta.KindInsert, Text: "XYZ"},
	}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got := pt.String(); got != "abcXYZdef" {
		t.Fatalf("String() = %q, want %q", got, "abcXYZdef")
	}
	// 跨 piece 边界删除 "cXYZd"
	if err := pt.Apply(delta.Delta{
		{Kind: delta.KindRetain, Count: 2},
		{Kind: delta.KindDelete, Count: 5},
	}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got := pt.String(); got != "abef" {
		t.Fatalf("String() = %q, want %q", got, "abef")
	}
}

func TestPieceTable_Unicode(t *testing.T) {
	pt := NewPieceTable("你好世界")
	if err := pt.Apply(delta.Delta{
		{Kind: delta.KindRetain, Count: 2},
		{Kind: delta.KindInsert, Text: "，协作"},
	}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got := pt.String(); got != "你好，协作世界" {
		t.Fatalf("String() = %q, want %q", got, "你好，协作世界")
	}
}

func TestPieceTable_InvalidDelta(t *testing.T) {
	pt := NewPieceTable("x")
	if err := pt.Apply(delta.Delta{{Kind: "replace", Count: 1}}); err == nil {
		t.Fatalf("Apply() accepted an invalid delta")
	}
	if got := pt.String(); got != "x" {
		t.Fatalf("String() = %q, want unchanged %q", got, "x")
	}
}
