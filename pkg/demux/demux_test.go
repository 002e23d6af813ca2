package demux

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/go-go-golems/sectionstream/pkg/channels"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedAll(d *Demuxer, parts ...string) []ParseResult {
	var out []ParseResult
	for _, p := range parts {
		out = append(out, d.Feed(p)...)
	}
	return append(out, d.Flush()...)
}

// merge collapses adjacent content results of the same channel so sequences produced
// from different fragmentations can be compared.
func merge(rs []ParseResult) []ParseResult {
	var out []ParseResult
	for _, r := range rs {
		if r.Content == "" && !r.Complete {
			continue
		}
		if n := len(out); n > 0 && !r.Complete && !out[n-1].Complete && out[n-1].Channel == r.Channel {
			out[n-1].Content += r.Content
			continue
		}
		out = append(out, r)
	}
	return out
}

func contentOf(rs []ParseResult, name channels.Name) string {
	var b strings.Builder
	for _, r := range rs {
		if r.Channel == name && !r.Complete {
			b.WriteString(r.Content)
		}
	}
	return b.String()
}

func completions(rs []ParseResult, name channels.Name) int {
	n := 0
	for _, r := range rs {
		if r.Channel == name && r.Complete {
			n++
		}
	}
	return n
}

func splitAt(s string, cuts ...int) []string {
	var parts []string
	prev := 0
	for _, c := range cuts {
		parts = append(parts, s[prev:c])
		prev = c
	}
	return append(parts, s[prev:])
}

func randomSplit(s string, seed int64, maxParts int) []string {
	r := rand.New(rand.NewSource(seed))
	np := 1 + r.Intn(maxParts)
	cuts := map[int]bool{}
	for len(cuts) < np-1 && len(cuts) < len(s)-1 {
		cuts[1+r.Intn(len(s)-1)] = true
	}
	var sorted []int
	for i := 1; i < len(s); i++ {
		if cuts[i] {
			sorted = append(sorted, i)
		}
	}
	return splitAt(s, sorted...)
}

func TestDemux_SingleFragmentScenario(t *testing.T) {
	d := New(channels.DefaultTable())
	rs := feedAll(d, "<response>Hello</response><reflection>Think</reflection>")

	require.Equal(t, []ParseResult{
		{Channel: channels.Response, Content: "Hello"},
		{Channel: channels.Response, Complete: true, Text: "Hello"},
		{Channel: channels.Reflection, Content: "Think"},
		{Channel: channels.Reflection, Complete: true, Text: "Think"},
	}, rs)
	assert.Equal(t, channels.None, d.Current())
	assert.True(t, d.Closed(channels.Response))
	assert.Equal(t, "Think", d.Buffer(channels.Reflection))
}

func TestDemux_SplitScenarioMatchesSingleFragment(t *testing.T) {
	whole := feedAll(New(channels.DefaultTable()), "<response>Hello</response>")
	split := feedAll(New(channels.DefaultTable()), "<resp", "onse>Hel", "lo</respon", "se>")

	assert.Equal(t, merge(whole), merge(split))
	assert.Equal(t, "Hello", contentOf(split, channels.Response))
}

func TestDemux_EveryTwoWaySplitOfEveryMarker(t *testing.T) {
	table := channels.DefaultTable()
	for _, spec := range table.Specs() {
		text := spec.Open + "a<b>c" + spec.Close
		for i := 1; i < len(text); i++ {
			rs := feedAll(New(table), splitAt(text, i)...)
			require.Equal(t, "a<b>c", contentOf(rs, spec.Name), "channel %s split at %d", spec.Name, i)
			require.Equal(t, 1, completions(rs, spec.Name), "channel %s split at %d", spec.Name, i)
		}
	}
}

func TestDemux_EveryThreeWaySplit(t *testing.T) {
	table := channels.DefaultTable()
	text := "pre<signals>[1]</signals><response>ok</response>"
	want := merge(feedAll(New(table), text))
	for i := 1; i < len(text); i++ {
		for j := i + 1; j < len(text); j++ {
			got := merge(feedAll(New(table), splitAt(text, i, j)...))
			require.Equal(t, want, got, "cuts %d,%d", i, j)
		}
	}
}

func TestDemux_CharacterByCharacter(t *testing.T) {
	table := channels.DefaultTable()
	text := "<response>Hi <there></response><reflection>x</reflection><memory>{\"a\":1}</memory>"

	var parts []string
	for _, r := range text {
		parts = append(parts, string(r))
	}
	got := feedAll(New(table), parts...)
	want := feedAll(New(table), text)

	assert.Equal(t, merge(want), merge(got))
	assert.Equal(t, "Hi <there>", contentOf(got, channels.Response))
	assert.Equal(t, "{\"a\":1}", contentOf(got, channels.Memory))
}

func TestDemux_RandomSplitsReconstructContent(t *testing.T) {
	table := channels.DefaultTable()
	bodies := []string{
		"",
		"plain",
		"<<<>>>",
		"</respons",
		"a < b and c > d",
		"unicode ✓ ünïcödé",
		"</signals> inside",
	}
	for _, spec := range table.Specs() {
		for _, body := range bodies {
			if strings.Contains(body, spec.Close) {
				continue
			}
			text := spec.Open + body + spec.Close
			for seed := int64(0); seed < 40; seed++ {
				parts := randomSplit(text, seed, len(text))
				require.Equal(t, text, strings.Join(parts, ""))
				rs := feedAll(New(table), parts...)
				require.Equal(t, body, contentOf(rs, spec.Name), "channel %s body %q seed %d", spec.Name, body, seed)
				require.Equal(t, 1, completions(rs, spec.Name))
			}
		}
	}
}

func TestDemux_UnknownClosingMarkerIsContent(t *testing.T) {
	d := New(channels.DefaultTable())
	rs := feedAll(d, "<response>a</bogus>b</response>")

	assert.Equal(t, "a</bogus>b", contentOf(rs, channels.Response))
	assert.Equal(t, 1, completions(rs, channels.Response))
}

func TestDemux_MismatchedMarkersAreContent(t *testing.T) {
	d := New(channels.DefaultTable())
	rs := feedAll(d, "<response>a</signals>b<memory>c</response>")

	assert.Equal(t, "a</signals>b<memory>c", contentOf(rs, channels.Response))
	assert.Equal(t, 1, completions(rs, channels.Response))
	assert.Equal(t, 0, completions(rs, channels.Signals))
	assert.False(t, d.Opened(channels.Memory))
}

func TestDemux_StrayClosingMarkerOutsideChannel(t *testing.T) {
	d := New(channels.DefaultTable())
	rs := feedAll(d, "</response>x<response>y</response>")

	assert.Equal(t, "</response>x", contentOf(rs, channels.None))
	assert.Equal(t, "y", contentOf(rs, channels.Response))
	assert.Equal(t, 1, completions(rs, channels.Response))
}

func TestDemux_LiteralAngleBracketIsReleased(t *testing.T) {
	d := New(channels.DefaultTable())

	rs := d.Feed("<response>x <")
	assert.Equal(t, []ParseResult{{Channel: channels.Response, Content: "x "}}, rs)

	rs = d.Feed("3 y")
	assert.Equal(t, []ParseResult{{Channel: channels.Response, Content: "<3 y"}}, rs)
}

func TestDemux_FlushReleasesHeldPrefix(t *testing.T) {
	d := New(channels.DefaultTable())
	rs := d.Feed("<response>x</resp")
	assert.Equal(t, "x", contentOf(rs, channels.Response))

	rs = d.Flush()
	assert.Equal(t, []ParseResult{{Channel: channels.Response, Content: "</resp"}}, rs)
	assert.Equal(t, "x</resp", d.Buffer(channels.Response))
	assert.False(t, d.Closed(channels.Response))

	assert.Nil(t, d.Flush())
	assert.Nil(t, d.Feed("more</response>"))
}

func TestDemux_UnclosedChannel(t *testing.T) {
	d := New(channels.DefaultTable())
	rs := feedAll(d, "<signals>[1,", " 2")

	assert.Equal(t, "[1, 2", contentOf(rs, channels.Signals))
	assert.Equal(t, 0, completions(rs, channels.Signals))
	assert.True(t, d.Opened(channels.Signals))
	assert.False(t, d.Closed(channels.Signals))
	assert.Equal(t, channels.Signals, d.Current())
}

func TestDemux_ReopenResetsBuffer(t *testing.T) {
	d := New(channels.DefaultTable())

	rs := d.Feed("<memory>A</memory>between")
	require.Equal(t, 1, completions(rs, channels.Memory))
	assert.Equal(t, "A", d.Buffer(channels.Memory))

	rs = append(d.Feed("<memory>B</memory>"), d.Flush()...)
	require.Equal(t, 1, completions(rs, channels.Memory))
	assert.Equal(t, "B", d.Buffer(channels.Memory))
}

func TestDemux_ReopenInOneFragmentKeepsEachCompletionText(t *testing.T) {
	text := "<memory>{\"a\": 1}</memory><memory>B</memory>"
	whole := feedAll(New(channels.DefaultTable()), text)

	var got []string
	for _, r := range whole {
		if r.Complete {
			got = append(got, r.Text)
		}
	}
	assert.Equal(t, []string{`{"a": 1}`, "B"}, got)

	for i := 1; i < len(text); i++ {
		split := feedAll(New(channels.DefaultTable()), splitAt(text, i)...)
		require.Equal(t, merge(whole), merge(split), "split at %d", i)
	}
}

func TestDemux_ReopenWhileOpenRestarts(t *testing.T) {
	d := New(channels.DefaultTable())
	rs := feedAll(d, "<response>A<response>B</response>")

	assert.Equal(t, "AB", contentOf(rs, channels.Response))
	assert.Equal(t, "B", d.Buffer(channels.Response))
	assert.Equal(t, 1, completions(rs, channels.Response))
}

func TestDemux_EmptyAndPreambleFragments(t *testing.T) {
	d := New(channels.DefaultTable())
	assert.Nil(t, d.Feed(""))

	rs := feedAll(d, "Sure! ", "", "<reflection></reflection>")
	assert.Equal(t, "Sure! ", contentOf(rs, channels.None))
	assert.Equal(t, 1, completions(rs, channels.Reflection))
	assert.Equal(t, "", d.Buffer(channels.Reflection))
	assert.True(t, d.Opened(channels.Reflection))
}

func TestDemux_NoByteEmittedTwice(t *testing.T) {
	table := channels.DefaultTable()
	text := "intro<response>one</response>mid<actions>[]</actions><bogus>tail"
	for seed := int64(0); seed < 100; seed++ {
		rs := feedAll(New(table), randomSplit(text, seed, 12)...)
		var all strings.Builder
		for _, r := range rs {
			all.WriteString(r.Content)
		}
		assert.Equal(t, "intro"+"one"+"mid"+"[]"+"<bogus>tail", all.String(), "seed %d", seed)
	}
}
