package allocation

// DailyQuota returns how many regions must be filled on one day of a commitment.
// Every day gets totalRegions/timeframe; the first day also absorbs the
// remainder, so the last scheduled day finishes the image exactly.
func DailyQuota(totalRegions, timeframe int, isFirstDay bool) int {
	if totalRegions <= 0 || timeframe <= 0 {
		return 0
	}

	base := totalRegions / timeframe
	if isFirstDay {
		return base + totalRegions%timeframe
	}
	return base
}

// ClampQuota limits quota to the number of regions still uncompleted
func ClampQuota(quota, remaining int) int {
	if quota < 0 || remaining <= 0 {
		return 0
	}
	if quota > remaining {
		return remaining
	}
	return quota
}

// Schedule returns the planned quota for each day of the timeframe
func Schedule(totalRegions, timeframe int) []int {
	if totalRegions <= 0 || timeframe <= 0 {
		return []int{}
	}

	plan := make([]int, timeframe)
	remaining := totalRegions
	for day := range plan {
		q := ClampQuota(DailyQuota(totalRegions, timeframe, day == 0), remaining)
		plan[day] = q
		remaining -= q
	}
	return plan
}
