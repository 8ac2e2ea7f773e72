package stats

import "github.com/ethpandaops/buildstatsoor/pkg/provider"

// AggregateApp reduces the builds of app into an AppStatistic. Averages are
// 0 when there are no builds.
func AggregateApp(app provider.App, builds []provider.Build) AppStatistic {
	stat := AppStatistic{
		Slug:  app.Slug,
		Name:  app.Title,
		Type:  app.ProjectType,
		Count: len(builds),
	}

	if stat.Count == 0 {
		return stat
	}

	var totalBuild, totalHold float64

	for i := range builds {
		totalBuild += BuildDuration(&builds[i])
		totalHold += HoldDuration(&builds[i])
	}

	stat.AvgBuildTime = totalBuild / float64(stat.Count)
	stat.AvgHoldTime = totalHold / float64(stat.Count)

	return stat
}

// AggregateByType groups statistics by type, in order of first occurrence,
// and averages AvgHoldTime across the apps of each group.
func AggregateByType(statistics []AppStatistic) []TypeStatistic {
	order := make([]string, 0, len(statistics))
	sums := make(map[string]float64, len(statistics))
	counts := make(map[string]int, len(statistics))

	for _, s := range statistics {
		if _, seen := counts[s.Type]; !seen {
			order = append(order, s.Type)
		}

		sums[s.Type] += s.AvgHoldTime
		counts[s.Type]++
	}

	result := make([]TypeStatistic, 0, len(order))

	for _, t := range order {
		result = append(result, TypeStatistic{
			Type:        t,
			AvgHoldTime: sums[t] / float64(counts[t]),
			Apps:        counts[t],
		})
	}

	return result
}

// TotalBuilds sums the build counts of all statistics.
func TotalBuilds(statistics []AppStatistic) int {
	var total int

	for _, s := range statistics {
		total += s.Count
	}

	return total
}
