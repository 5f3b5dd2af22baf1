package shared

// Permissions follow module.action naming; rbac grants them per role.
const (
	PermMasterdataView = "masterdata.view"
	PermMasterdataEdit = "masterdata.edit"

	PermSalesView = "sales.view"
	PermSalesEdit = "sales.edit"

	PermProcurementView = "procurement.view"
	PermProcurementEdit = "procurement.edit"

	PermProductionView = "production.view"
	PermProductionEdit = "production.edit"

	PermQCView = "qc.view"
	PermQCEdit = "qc.edit"

	PermExternalView = "external.view"
	PermExternalEdit = "external.edit"

	PermPackingView = "packing.view"
	PermPackingEdit = "packing.edit"

	PermDispatchView = "dispatch.view"
	PermDispatchEdit = "dispatch.edit"

	PermFinanceView = "finance.view"
	PermFinanceEdit = "finance.edit"

	PermSheView = "she.view"
	PermSheEdit = "she.edit"

	PermInsightsView = "insights.view"

	PermAuditView = "audit.view"

	PermAdminManage = "admin.manage"
)

// AllScopes lists every permission the service knows, used when seeding
// the admin role.
func AllScopes() []string {
	return []string{
		PermMasterdataView, PermMasterdataEdit,
		PermSalesView, PermSalesEdit,
		PermProcurementView, PermProcurementEdit,
		PermProductionView, PermProductionEdit,
		PermQCView, PermQCEdit,
		PermExternalView, PermExternalEdit,
		PermPackingView, PermPackingEdit,
		PermDispatchView, PermDispatchEdit,
		PermFinanceView, PermFinanceEdit,
		PermSheView, PermSheEdit,
		PermInsightsView,
		PermAuditView,
		PermAdminManage,
	}
}
