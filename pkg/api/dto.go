package api

import (
	"time"

	"github.com/cuemby/nsscheduler/pkg/controller"
)

// envStateDTO is the wire shape of EnvState from spec.md §6:
// {env_name, env_state, env_schedule, next_action|null, namespaces:[...]}.
type envStateDTO struct {
	EnvName     string              `json:"env_name"`
	EnvState    string              `json:"env_state"`
	EnvSchedule string              `json:"env_schedule"`
	NextAction  *actionDTO          `json:"next_action"`
	Namespaces  []namespaceStateDTO `json:"namespaces"`
}

type actionDTO struct {
	Kind   string    `json:"kind"`
	Source string    `json:"source"`
	When   time.Time `json:"when"`
}

type namespaceStateDTO struct {
	NamespaceName string              `json:"namespace_name"`
	State         namespaceSummaryDTO `json:"state"`
}

type namespaceSummaryDTO struct {
	Pods   int    `json:"pods"`
	CPU    string `json:"cpu"`
	Memory string `json:"memory"`
}

type stateAllDTO struct {
	Environments []envStateDTO `json:"environments"`
}

func toEnvStateDTO(st controller.EnvState) envStateDTO {
	dto := envStateDTO{
		EnvName:     st.EnvName,
		EnvState:    st.EnvState,
		EnvSchedule: st.EnvSchedule,
		Namespaces:  make([]namespaceStateDTO, 0, len(st.Namespaces)),
	}
	if st.NextAction != nil {
		dto.NextAction = &actionDTO{
			Kind:   st.NextAction.Kind.String(),
			Source: st.NextAction.Source.String(),
			When:   st.NextAction.When,
		}
	}
	for _, ns := range st.Namespaces {
		dto.Namespaces = append(dto.Namespaces, namespaceStateDTO{
			NamespaceName: ns.Namespace,
			State: namespaceSummaryDTO{
				Pods:   ns.Pods,
				CPU:    ns.CPU.String(),
				Memory: ns.Memory.String(),
			},
		})
	}
	return dto
}
