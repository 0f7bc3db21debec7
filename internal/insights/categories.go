package insights

import (
	"fmt"
	"sort"

	"github.com/vinodismyname/mcpsales/internal/kmeans"
	"github.com/vinodismyname/mcpsales/internal/sales"
)

// ClusterStat summarizes one cluster's members.
type ClusterStat struct {
	Cluster      int            `json:"cluster"`
	Category     sales.Category `json:"category"`
	Count        int            `json:"count"`
	TotalRevenue float64        `json:"total_revenue"`
	MeanRevenue  float64        `json:"mean_revenue"`
}

// CategoryMap assigns a Category to each cluster id by ascending mean revenue.
type CategoryMap struct {
	byCluster [kmeans.K]sales.Category
	// Stats is in rank order: Underperforming first.
	Stats []ClusterStat `json:"stats"`
}

// Category returns the category assigned to cluster id c.
func (m CategoryMap) Category(c int) sales.Category {
	return m.byCluster[c]
}

// MapCategories ranks the clusters in labels (one per record of ds) by mean revenue.
// Equal means keep ascending cluster-id order.
func MapCategories(ds sales.Dataset, labels []int) (CategoryMap, error) {
	if len(labels) != len(ds.Records) {
		return CategoryMap{}, fmt.Errorf("insights: %d labels for %d records", len(labels), len(ds.Records))
	}

	stats := make([]ClusterStat, kmeans.K)
	for c := range stats {
		stats[c].Cluster = c
	}
	for i, l := range labels {
		if l < 0 || l >= kmeans.K {
			return CategoryMap{}, fmt.Errorf("insights: label %d out of range at record %d", l, i)
		}
		stats[l].Count++
		stats[l].TotalRevenue += ds.Records[i].Revenue
	}

	for _, s := range stats {
		if s.Count == 0 {
			return CategoryMap{}, fmt.Errorf("%w: cluster %d is empty", sales.ErrDegenerateClustering, s.Cluster)
		}
	}
	for c := range stats {
		stats[c].MeanRevenue = stats[c].TotalRevenue / float64(stats[c].Count)
	}

	sort.SliceStable(stats, func(i, j int) bool {
		if stats[i].MeanRevenue != stats[j].MeanRevenue {
			return stats[i].MeanRevenue < stats[j].MeanRevenue
		}
		return stats[i].Cluster < stats[j].Cluster
	})

	var m CategoryMap
	for rank := range stats {
		stats[rank].Category = sales.Categories[rank]
		m.byCluster[stats[rank].Cluster] = sales.Categories[rank]
	}
	m.Stats = stats
	return m, nil
}
