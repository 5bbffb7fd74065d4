package models

import (
	"fmt"
	"sort"
	"strconv"
)

// Region is one colorable unit of an image
type Region struct {
	ID    int    `yaml:"id" json:"id"`
	Color string `yaml:"color" json:"color"`
}

// Image is the region catalog for one segmented picture
type Image struct {
	ID      string
	Name    string
	URL     string
	regions []int
	colors  map[int]string
}

// NewImage builds an image, rejecting duplicate region ids and missing colors
func NewImage(id, name, url string, regions []Region) (*Image, error) {
	if id == "" {
		return nil, fmt.Errorf("image id is required")
	}
	if len(regions) == 0 {
		return nil, fmt.Errorf("image %s has no regions", id)
	}

	img := &Image{
		ID:      id,
		Name:    name,
		URL:     url,
		regions: make([]int, 0, len(regions)),
		colors:  make(map[int]string, len(regions)),
	}

	for _, r := range regions {
		if r.Color == "" {
			return nil, fmt.Errorf("image %s: region %d has no color", id, r.ID)
		}
		if _, dup := img.colors[r.ID]; dup {
			return nil, fmt.Errorf("image %s: duplicate region %d", id, r.ID)
		}
		img.colors[r.ID] = r.Color
		img.regions = append(img.regions, r.ID)
	}

	return img, nil
}

// TotalRegions returns the number of regions in the image
func (i *Image) TotalRegions() int {
	return len(i.regions)
}

// RegionIDs returns a copy of the region ids in declaration order
func (i *Image) RegionIDs() []int {
	ids := make([]int, len(i.regions))
	copy(ids, i.regions)
	return ids
}

// HasRegion reports whether id belongs to the image
func (i *Image) HasRegion(id int) bool {
	_, ok := i.colors[id]
	return ok
}

// ColorOf returns the display color of a region
func (i *Image) ColorOf(id int) (string, bool) {
	c, ok := i.colors[id]
	return c, ok
}

// Uncompleted returns the region ids not present in completed, in declaration order
func (i *Image) Uncompleted(completed map[int]struct{}) []int {
	out := make([]int, 0, len(i.regions))
	for _, id := range i.regions {
		if _, done := completed[id]; !done {
			out = append(out, id)
		}
	}
	return out
}

// ImageResponse is the JSON shape served to clients
type ImageResponse struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	URL                string            `json:"url"`
	TotalRegions       int               `json:"total_regions"`
	RegionColorMapping map[string]string `json:"regionColorMapping"`
}

// Response converts the image to its client representation
func (i *Image) Response() ImageResponse {
	mapping := make(map[string]string, len(i.colors))
	for id, color := range i.colors {
		mapping[strconv.Itoa(id)] = color
	}
	return ImageResponse{
		ID:                 i.ID,
		Name:               i.Name,
		URL:                i.URL,
		TotalRegions:       len(i.regions),
		RegionColorMapping: mapping,
	}
}

// SortImages orders images by id
func SortImages(images []*Image) {
	sort.Slice(images, func(a, b int) bool { return images[a].ID < images[b].ID })
}
