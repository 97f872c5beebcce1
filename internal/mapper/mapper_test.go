package mapper_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/KaramelBytes/bmpopt/internal/mapper"
	"github.com/KaramelBytes/bmpopt/internal/table"
)

func frame(t *testing.T, name string, cols []string, rows ...[]string) *table.Frame {
	t.Helper()
	f := table.New(name, cols...)
	for _, r := range rows {
		if err := f.Append(r...); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	return f
}

func segments(t *testing.T) *table.Frame {
	return frame(t, "landriversegment", []string{"lrsegid", "landriversegment", "countyid"},
		[]string{"1", "N51001", "10"},
		[]string{"2", "N51003", "10"},
		[]string{"3", "N24001", "20"},
	)
}

func TestTranslateSingleKeepsInputOrder(t *testing.T) {
	got, err := mapper.SingleValues([]string{"3", "1", "3"}, segments(t), "lrsegid", "landriversegment")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if diff := cmp.Diff([]string{"N24001", "N51001", "N24001"}, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestTranslateSingleUnmapped(t *testing.T) {
	_, err := mapper.SingleValues([]string{"1", "9"}, segments(t), "lrsegid", "landriversegment")
	var ue *mapper.UnmappedValueError
	if !errors.As(err, &ue) || ue.Value != "9" {
		t.Fatalf("expected UnmappedValueError for 9, got %v", err)
	}
}

func TestTranslateSingleDuplicate(t *testing.T) {
	ref := frame(t, "bmpgroup", []string{"bmpid", "bmpgroupid"},
		[]string{"1", "100"},
		[]string{"1", "100"},
		[]string{"2", "100"},
		[]string{"2", "200"},
	)
	if _, err := mapper.SingleValues([]string{"1"}, ref, "bmpid", "bmpgroupid"); err != nil {
		t.Fatalf("identical duplicate rows must collapse: %v", err)
	}
	_, err := mapper.SingleValues([]string{"2"}, ref, "bmpid", "bmpgroupid")
	var de *mapper.DuplicateMappingError
	if !errors.As(err, &de) || len(de.Targets) != 2 {
		t.Fatalf("expected DuplicateMappingError, got %v", err)
	}
}

func TestTranslateDictAndFlattenedSet(t *testing.T) {
	ref := segments(t)
	d, err := mapper.Dict([]string{"10", "20", "99"}, ref, "countyid", "landriversegment")
	if err != nil {
		t.Fatalf("dict: %v", err)
	}
	want := map[string][]string{"10": {"N51001", "N51003"}, "20": {"N24001"}}
	if diff := cmp.Diff(want, d); diff != "" {
		t.Fatalf("dict (-want +got):\n%s", diff)
	}
	s, err := mapper.FlattenedSet([]string{"20", "10", "10", "99"}, ref, "countyid", "landriversegment")
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if diff := cmp.Diff([]string{"N24001", "N51001", "N51003"}, s); diff != "" {
		t.Fatalf("set (-want +got):\n%s", diff)
	}
}

func TestTranslateFrame(t *testing.T) {
	in := frame(t, "request", []string{"countyid"}, []string{"20"}, []string{"10"})
	out, err := mapper.TranslateFrame(in, "", segments(t), "countyid", "landriversegment", mapper.ToDict)
	if err != nil {
		t.Fatalf("translate frame: %v", err)
	}
	if diff := cmp.Diff([]string{"countyid", "landriversegment"}, out.Columns()); diff != "" {
		t.Fatalf("columns (-want +got):\n%s", diff)
	}
	if out.Len() != 3 || out.Value(0, "landriversegment") != "N24001" {
		t.Fatalf("unexpected rows")
	}
	two := frame(t, "x", []string{"a", "b"})
	if _, err := mapper.TranslateFrame(two, "", segments(t), "countyid", "lrsegid", mapper.Single); err == nil {
		t.Fatalf("expected error for multi-column input without column name")
	}
}

func TestJoinAppendOrderAndInnerSemantics(t *testing.T) {
	base := frame(t, "loadingrate", []string{"lrsegid", "loadingrate"},
		[]string{"3", "1.5"},
		[]string{"1", "2.5"},
		[]string{"7", "9.9"},
	)
	out, err := mapper.JoinAppend(base, segments(t), "lrsegid", []string{"landriversegment"}, mapper.JoinOptions{})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	got, _ := out.Column("landriversegment")
	if diff := cmp.Diff([]string{"N51001", "N24001"}, got); diff != "" {
		t.Fatalf("reference order (-want +got):\n%s", diff)
	}
	out, err = mapper.JoinAppend(base, segments(t), "lrsegid", []string{"landriversegment"}, mapper.JoinOptions{PreserveInputOrder: true})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	got, _ = out.Column("landriversegment")
	if diff := cmp.Diff([]string{"N24001", "N51001"}, got); diff != "" {
		t.Fatalf("input order (-want +got):\n%s", diff)
	}
	if _, err := mapper.JoinAppend(base, segments(t), "lrsegid", []string{"loadingrate"}, mapper.JoinOptions{}); err == nil {
		t.Fatalf("expected error when appended column is missing from reference")
	}
}

func TestJoinAppendStrict(t *testing.T) {
	ids := frame(t, "bmp", []string{"bmpid"}, []string{"2"}, []string{"1"})
	ref := frame(t, "bmp", []string{"bmpid", "bmpshortname", "bmpgroupid"},
		[]string{"1", "Buffer", "100"},
		[]string{"2", "CoverCrop", "200"},
		[]string{"2", "CoverCrop", "200"},
	)
	out, err := mapper.JoinAppend(ids, ref, "bmpid", []string{"bmpshortname", "bmpgroupid"}, mapper.JoinOptions{Strict: true})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if diff := cmp.Diff([][]string{{"2", "CoverCrop", "200"}, {"1", "Buffer", "100"}}, [][]string{out.Row(0), out.Row(1)}); diff != "" {
		t.Fatalf("rows (-want +got):\n%s", diff)
	}
	if out.Len() != 2 {
		t.Fatalf("len = %d, want 2", out.Len())
	}

	missing := frame(t, "bmp", []string{"bmpid"}, []string{"1"}, []string{"9"})
	_, err = mapper.JoinAppend(missing, ref, "bmpid", []string{"bmpshortname"}, mapper.JoinOptions{Strict: true})
	var ue *mapper.UnmappedValueError
	if !errors.As(err, &ue) || ue.Value != "9" {
		t.Fatalf("expected UnmappedValueError for 9, got %v", err)
	}

	conflicting := frame(t, "bmp", []string{"bmpid", "bmpgroupid"},
		[]string{"1", "100"},
		[]string{"1", "300"},
	)
	_, err = mapper.JoinAppend(ids, conflicting, "bmpid", []string{"bmpgroupid"}, mapper.JoinOptions{Strict: true})
	var de *mapper.DuplicateMappingError
	if !errors.As(err, &de) || de.Value != "1" {
		t.Fatalf("expected DuplicateMappingError for 1, got %v", err)
	}
}
