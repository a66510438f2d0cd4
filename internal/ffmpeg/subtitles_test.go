package ffmpeg

import "testing"

func TestSelectSubtitles_NilInNilOut(t *testing.T) {
	keep, dropped := SelectSubtitles(nil, ContainerWebM)
	if keep != nil || dropped != nil {
		t.Errorf("SelectSubtitles(nil, ...) = (%v, %v), want (nil, nil)", keep, dropped)
	}
}

func TestSelectSubtitles_TextAlwaysKept(t *testing.T) {
	streams := []SubtitleStream{
		{Index: 2, Codec: "subrip"},
		{Index: 3, Codec: "ass"},
	}
	keep, dropped := SelectSubtitles(streams, ContainerWebM)
	if len(keep) != 2 || len(dropped) != 0 {
		t.Errorf("text subtitles should survive WebM output, got keep=%v dropped=%v", keep, dropped)
	}
}

func TestSelectSubtitles_ImageBasedDroppedOnlyForWebM(t *testing.T) {
	streams := []SubtitleStream{
		{Index: 2, Codec: "hdmv_pgs_subtitle", ImageBased: true},
		{Index: 3, Codec: "subrip"},
	}

	keep, dropped := SelectSubtitles(streams, ContainerWebM)
	if len(keep) != 1 || keep[0].Index != 3 {
		t.Errorf("expected only subrip kept for webm, got %v", keep)
	}
	if len(dropped) != 1 || dropped[0].Index != 2 {
		t.Errorf("expected pgs dropped for webm, got %v", dropped)
	}

	keep, dropped = SelectSubtitles(streams, ContainerMatroska)
	if len(keep) != 2 || len(dropped) != 0 {
		t.Errorf("image-based subtitles should survive non-webm output, got keep=%v dropped=%v", keep, dropped)
	}
}

func TestSelectSubtitles_AllIncompatibleReturnsEmptyNotNil(t *testing.T) {
	streams := []SubtitleStream{{Index: 2, Codec: "hdmv_pgs_subtitle", ImageBased: true}}
	keep, _ := SelectSubtitles(streams, ContainerWebM)
	if keep == nil {
		t.Error("keep should be a non-nil empty slice, not nil, when all streams are dropped")
	}
	if len(keep) != 0 {
		t.Errorf("expected 0 kept streams, got %d", len(keep))
	}
}
