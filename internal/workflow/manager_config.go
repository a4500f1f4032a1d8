package workflow

import "speecheval/internal/queue"

// ConfigureStages registers the concrete stage handlers the workflow will run.
func (m *Manager) ConfigureStages(set StageSet) {
	stages := make(map[queue.Stage]pipelineStage, 2)
	if set.Transcriber != nil {
		stages[queue.StagePendingTranscription] = pipelineStage{
			name:            "transcription",
			handler:         set.Transcriber,
			startStage:      queue.StagePendingTranscription,
			processingStage: queue.StageTranscribing,
		}
	}
	if set.Scorer != nil {
		stages[queue.StagePendingEval] = pipelineStage{
			name:            "scoring",
			handler:         set.Scorer,
			startStage:      queue.StagePendingEval,
			processingStage: queue.StageEvaluating,
		}
	}

	m.mu.Lock()
	m.stages = stages
	m.mu.Unlock()
}

func (m *Manager) stageFor(s queue.Stage) (pipelineStage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stg, ok := m.stages[queue.RetrySafeStage(s)]
	return stg, ok
}

func (m *Manager) stageList() []pipelineStage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]pipelineStage, 0, len(m.stages))
	for _, key := range []queue.Stage{queue.StagePendingTranscription, queue.StagePendingEval} {
		if stg, ok := m.stages[key]; ok {
			out = append(out, stg)
		}
	}
	return out
}
