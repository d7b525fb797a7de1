package timeline

import "fmt"

// Document 时间线的持久化结构，由持久化协作方负责存取
type Document struct {
	ID     TimelineID `json:"id"`
	Name   string     `json:"name"`
	Format Format     `json:"format"`
	Tracks []TrackDoc `json:"tracks"`
}

type TrackDoc struct {
	ID    TrackID `json:"id"`
	Kind  Kind    `json:"kind"`
	Order int64   `json:"order"`
	TrackProps
	Clips []Clip `json:"clips"`
}

// ToDocument 导出为持久化结构，可用于结构相等比较
func (t *Timeline) ToDocument() Document {
	doc := Document{
		ID:     t.ID,
		Name:   t.Name,
		Format: t.Format,
		Tracks: make([]TrackDoc, 0, len(t.tracks)),
	}
	for _, tr := range t.tracks {
		doc.Tracks = append(doc.Tracks, TrackDoc{
			ID:         tr.ID,
			Kind:       tr.Kind,
			Order:      tr.Order,
			TrackProps: tr.TrackProps,
			Clips:      tr.Clips(),
		})
	}
	return doc
}

// FromDocument 从持久化结构恢复，只校验结构（时长、区间、重叠、id 唯一），
// 不要求素材仍在登记表中，缺失的素材在渲染时处理
func FromDocument(doc Document, sources SourceLookup) (*Timeline, error) {
	t := New(doc.ID, doc.Name, doc.Format, sources)
	for _, td := range doc.Tracks {
		tr := &Track{ID: td.ID, Kind: td.Kind, Order: td.Order, TrackProps: td.TrackProps}
		for _, c := range td.Clips {
			cc := c.Clone()
			tr.insert(&cc)
		}
		if _, _, err := t.addTrack(tr, false); err != nil {
			return nil, fmt.Errorf("restore timeline %s: %w", doc.ID, err)
		}
	}
	return t, nil
}
