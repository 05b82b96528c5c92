package pacemaker

import "encoding/xml"

// XML structures for parsing "pcs status xml" output.
// These map directly to pacemaker's XML schema; boolean attributes are the
// strings "true"/"false".

// Result is the root element of pcs status xml output.
type Result struct {
	XMLName   xml.Name     `xml:"pacemaker-result"`
	Summary   xmlSummary   `xml:"summary"`
	Nodes     xmlNodes     `xml:"nodes"`
	Resources xmlResources `xml:"resources"`
}

type xmlSummary struct {
	Stack               xmlStack          `xml:"stack"`
	CurrentDC           xmlCurrentDC      `xml:"current_dc"`
	NodesConfigured     xmlNumber         `xml:"nodes_configured"`
	ResourcesConfigured xmlNumber         `xml:"resources_configured"`
	ClusterOptions      xmlClusterOptions `xml:"cluster_options"`
}

type xmlClusterOptions struct {
	StonithEnabled  string `xml:"stonith-enabled,attr"`
	MaintenanceMode string `xml:"maintenance-mode,attr"`
}

type xmlStack struct {
	PacemakerdState string `xml:"pacemakerd-state,attr"`
}

type xmlCurrentDC struct {
	Present    string `xml:"present,attr"`
	Name       string `xml:"name,attr"`
	WithQuorum string `xml:"with_quorum,attr"`
}

type xmlNumber struct {
	Number string `xml:"number,attr"`
}

type xmlNodes struct {
	Node []xmlNode `xml:"node"`
}

type xmlNode struct {
	Name             string `xml:"name,attr"`
	ID               string `xml:"id,attr"`
	Online           string `xml:"online,attr"`
	Standby          string `xml:"standby,attr"`
	StandbyOnFail    string `xml:"standby_onfail,attr"`
	Maintenance      string `xml:"maintenance,attr"`
	Pending          string `xml:"pending,attr"`
	Unclean          string `xml:"unclean,attr"`
	Shutdown         string `xml:"shutdown,attr"`
	ExpectedUp       string `xml:"expected_up,attr"`
	IsDC             string `xml:"is_dc,attr"`
	ResourcesRunning string `xml:"resources_running,attr"`
	Type             string `xml:"type,attr"` // "member" or "remote"
}

type xmlResources struct {
	Clone    []xmlClone    `xml:"clone"`
	Group    []xmlGroup    `xml:"group"`
	Resource []xmlResource `xml:"resource"`
}

type xmlClone struct {
	ID         string        `xml:"id,attr"`
	MultiState string        `xml:"multi_state,attr"`
	Unique     string        `xml:"unique,attr"`
	Managed    string        `xml:"managed,attr"`
	Failed     string        `xml:"failed,attr"`
	Resource   []xmlResource `xml:"resource"`
	Group      []xmlGroup    `xml:"group"`
}

type xmlGroup struct {
	ID       string        `xml:"id,attr"`
	Resource []xmlResource `xml:"resource"`
}

type xmlResource struct {
	ID             string       `xml:"id,attr"`
	ResourceAgent  string       `xml:"resource_agent,attr"` // e.g. "systemd:kubelet", "stonith:fence_redfish"
	Role           string       `xml:"role,attr"`           // "Started", "Stopped", ...
	TargetRole     string       `xml:"target_role,attr"`
	Active         string       `xml:"active,attr"`
	Orphaned       string       `xml:"orphaned,attr"`
	Blocked        string       `xml:"blocked,attr"`
	Maintenance    string       `xml:"maintenance,attr"`
	Managed        string       `xml:"managed,attr"`
	Failed         string       `xml:"failed,attr"`
	FailureIgnored string       `xml:"failure_ignored,attr"`
	NodesRunningOn string       `xml:"nodes_running_on,attr"`
	Node           []xmlNodeRef `xml:"node"`
}

type xmlNodeRef struct {
	Name string `xml:"name,attr"`
	ID   string `xml:"id,attr"`
}
