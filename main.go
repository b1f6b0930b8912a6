package main

import (
	"github.com/elmachotroso/unreal-devtoolbox-sub009/atlas"
	"github.com/elmachotroso/unreal-devtoolbox-sub009/logging"
	"github.com/elmachotroso/unreal-devtoolbox-sub009/scene"
)

func main() {
	logger := logging.CreateDebugLogger()

	surfaceCache, err := scene.NewScene(*logger, &scene.Options{
		Options: atlas.Options{
			AtlasWidthPages:  8,
			AtlasHeightPages: 8,
			PageSizeTexels:   128,
		},
		EvictFrameThreshold: 30,
	})

	if err != nil {
		logger.Error().Err(err).Msg("failed to create surface cache scene")
		return
	}

	// a locked coarse fallback level plus a demanded detail level
	terrain := surfaceCache.CreateCard(0, 0)
	decal := surfaceCache.CreateCard(-1, 0)

	surfaceCache.Update(scene.UpdateContext{Frame: 1}, []scene.SurfaceRequest{
		{Card: terrain, ResLevel: 5, LockPages: true},
		{Card: terrain, ResLevel: 9},
		{Card: decal, ResLevel: 8},
	})

	stats := surfaceCache.Stats()
	payload, err := stats.JSON()
	if err != nil {
		logger.Error().Err(err).Msg("failed to serialize stats")
		return
	}
	logger.Info().Msgf("surface cache after first update : %s", string(payload))

	// let the detail level go cold, demand elsewhere reclaims it
	surfaceCache.Update(scene.UpdateContext{Frame: 60}, []scene.SurfaceRequest{
		{Card: decal, ResLevel: 9},
	})

	stats = surfaceCache.Stats()
	payload, _ = stats.JSON()
	logger.Info().Msgf("surface cache after eviction pass : %s", string(payload))

	records := surfaceCache.PageTableRecords()
	logger.Info().Msgf("page table snapshot holds %d slots", len(records))
}
